package domain

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		current OrderStatus
		target  OrderStatus
		from    []OrderStatus
		want    TransitionDecision
		wantErr bool
	}{
		{name: "apply from allowed", current: OrderStatusPending, target: OrderStatusPaymentConfirmed, from: []OrderStatus{OrderStatusPending}, want: TransitionApply},
		{name: "skip when already there", current: OrderStatusPaymentConfirmed, target: OrderStatusPaymentConfirmed, from: []OrderStatus{OrderStatusPending}, want: TransitionSkip},
		{name: "skip when past target", current: OrderStatusShipped, target: OrderStatusConfirmed, from: []OrderStatus{OrderStatusPaymentConfirmed}, want: TransitionSkip},
		{name: "skip cancelled on cancellation chain", current: OrderStatusCancelled, target: OrderStatusCancelled, from: []OrderStatus{OrderStatusPendingCancellation}, want: TransitionSkip},
		{name: "skip partial return when return settled", current: OrderStatusPartiallyReturned, target: OrderStatusReturned, from: []OrderStatus{OrderStatusPendingReturned}, want: TransitionSkip},
		{name: "reject earlier state", current: OrderStatusPending, target: OrderStatusConfirmed, from: []OrderStatus{OrderStatusPaymentConfirmed}, wantErr: true},
		{name: "reject side branch", current: OrderStatusPaymentFailed, target: OrderStatusPaymentConfirmed, from: []OrderStatus{OrderStatusPending}, wantErr: true},
		{name: "reject across chains", current: OrderStatusCancelled, target: OrderStatusShipped, from: []OrderStatus{OrderStatusConfirmed}, wantErr: true},
		{name: "reject manual intervention", current: OrderStatusManualIntervention, target: OrderStatusDelivered, from: []OrderStatus{OrderStatusShipped}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition("order-1", tt.current, tt.target, tt.from...)
			if tt.wantErr {
				var stateErr *InvalidStateTransitionError
				if !errors.As(err, &stateErr) {
					t.Fatalf("expected InvalidStateTransitionError, got %v", err)
				}
				if stateErr.From != tt.current || stateErr.To != tt.target {
					t.Fatalf("unexpected error detail: %+v", stateErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Transition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		current OrderStatus
		target  OrderStatus
		want    TransitionDecision
	}{
		{OrderStatusPending, OrderStatusShipped, TransitionApply},
		{OrderStatusConfirmed, OrderStatusDelivered, TransitionApply},
		{OrderStatusDelivered, OrderStatusShipped, TransitionSkip},
		{OrderStatusShipped, OrderStatusShipped, TransitionSkip},
		{OrderStatusReturned, OrderStatusDelivered, TransitionSkip},
		{OrderStatusCancelled, OrderStatusShipped, TransitionApply},
		{OrderStatusConfirmed, OrderStatusPaymentFailed, TransitionApply},
		{OrderStatusPaymentFailed, OrderStatusPaymentFailed, TransitionSkip},
		{OrderStatusConfirmed, OrderStatusInventoryFailed, TransitionApply},
		{OrderStatusInventoryFailed, OrderStatusInventoryFailed, TransitionSkip},
	}

	for _, tt := range tests {
		if got := Advance(tt.current, tt.target); got != tt.want {
			t.Errorf("Advance(%s, %s) = %v, want %v", tt.current, tt.target, got, tt.want)
		}
	}
}

func TestCanCancelAndReturn(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusPendingCancellation} {
		if CanCancel(s) {
			t.Errorf("cancel must be rejected in %s", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusPaymentConfirmed, OrderStatusConfirmed} {
		if !CanCancel(s) {
			t.Errorf("cancel must be allowed in %s", s)
		}
	}
	if !CanReturn(OrderStatusDelivered) || CanReturn(OrderStatusShipped) || CanReturn(OrderStatusPartiallyReturned) {
		t.Error("return must be allowed only for DELIVERED")
	}
}
