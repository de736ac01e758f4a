package domain

// ChargeOutcome — исход синхронного списания.
type ChargeOutcome string

const (
	// Деньги списаны, TransactionID заполнен.
	ChargeSucceeded ChargeOutcome = "SUCCEEDED"
	// Провайдер отказал (бизнес-решение), повтор не поможет.
	ChargeDeclined ChargeOutcome = "DECLINED"
	// Платёжный сервис недоступен, решение о платеже не принято.
	ChargeUnavailable ChargeOutcome = "UNAVAILABLE"
)

// Коды отказа, которые возвращает платёжный сервис.
const (
	DeclineCardDeclined      = "CARD_DECLINED"
	DeclineInsufficientFunds = "INSUFFICIENT_FUNDS"
	DeclineInvalidPayload    = "INVALID_PAYLOAD"
)

// ChargeRequest описывает запрос на списание средств по заказу.
type ChargeRequest struct {
	OrderID      string
	UserID       string
	AmountMinor  int64
	Currency     string
	PaymentToken string
}

// ChargeResult — явный результат списания вместо ошибок для управления потоком.
type ChargeResult struct {
	Outcome       ChargeOutcome
	TransactionID string
	DeclineCode   string
	Message       string
}

func ChargeSuccess(transactionID string) ChargeResult {
	return ChargeResult{Outcome: ChargeSucceeded, TransactionID: transactionID}
}

func ChargeDecline(code, message string) ChargeResult {
	return ChargeResult{Outcome: ChargeDeclined, DeclineCode: code, Message: message}
}

func ChargeUnavailableResult(message string) ChargeResult {
	return ChargeResult{Outcome: ChargeUnavailable, Message: message}
}

// Err переводит результат в доменную ошибку; для успеха возвращает nil.
func (r ChargeResult) Err() error {
	switch r.Outcome {
	case ChargeSucceeded:
		return nil
	case ChargeDeclined:
		return &PaymentDeclinedError{Code: r.DeclineCode, Message: r.Message}
	default:
		return ErrPaymentServiceUnavailable
	}
}
