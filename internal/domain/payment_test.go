package domain

import (
	"errors"
	"testing"
)

func TestChargeResultErr(t *testing.T) {
	if err := ChargeSuccess("txn-1").Err(); err != nil {
		t.Fatalf("success must not produce error, got %v", err)
	}

	err := ChargeDecline(DeclineInsufficientFunds, "not enough money").Err()
	var declined *PaymentDeclinedError
	if !errors.As(err, &declined) || declined.Code != DeclineInsufficientFunds {
		t.Fatalf("expected decline with code, got %v", err)
	}
	if errors.Is(err, ErrPaymentServiceUnavailable) {
		t.Fatal("decline must not be conflated with unavailability")
	}

	if err := ChargeUnavailableResult("timeout").Err(); !errors.Is(err, ErrPaymentServiceUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
