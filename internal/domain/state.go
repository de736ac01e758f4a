package domain

// TransitionDecision — результат проверки перехода по текущему сохранённому статусу.
type TransitionDecision int

const (
	// Переход нужно выполнить.
	TransitionApply TransitionDecision = iota
	// Заказ уже в целевом статусе или дальше него (повторная доставка события).
	TransitionSkip
)

type stateRank struct {
	chain string
	rank  int
}

// Порядок статусов вдоль основной ветки и ветки возврата. Боковые ветки ранжируются отдельно,
// поэтому "дальше" сравнимо только внутри одной цепочки.
var stateRanks = map[OrderStatus]stateRank{
	OrderStatusPending:                  {chain: "fulfilment", rank: 0},
	OrderStatusPaymentConfirmed:         {chain: "fulfilment", rank: 1},
	OrderStatusConfirmed:                {chain: "fulfilment", rank: 2},
	OrderStatusShipped:                  {chain: "fulfilment", rank: 3},
	OrderStatusDelivered:                {chain: "fulfilment", rank: 4},
	OrderStatusPendingReturned:          {chain: "fulfilment", rank: 5},
	OrderStatusPendingPartiallyReturned: {chain: "fulfilment", rank: 5},
	OrderStatusReturned:                 {chain: "fulfilment", rank: 6},
	OrderStatusPartiallyReturned:        {chain: "fulfilment", rank: 6},
	OrderStatusPendingCancellation:      {chain: "cancellation", rank: 0},
	OrderStatusCancelled:                {chain: "cancellation", rank: 1},
}

// Reached сообщает, находится ли статус current в target или дальше него по той же цепочке.
func Reached(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	c, okC := stateRanks[current]
	t, okT := stateRanks[target]
	if !okC || !okT || c.chain != t.chain {
		return false
	}
	return c.rank >= t.rank
}

// Transition проверяет переход заказа в target. Если заказ уже там (или дальше), ответ TransitionSkip,
// если текущий статус входит в allowedFrom — TransitionApply, иначе InvalidStateTransitionError.
func Transition(orderID string, current, target OrderStatus, allowedFrom ...OrderStatus) (TransitionDecision, error) {
	for _, from := range allowedFrom {
		if current == from {
			return TransitionApply, nil
		}
	}
	if Reached(current, target) {
		return TransitionSkip, nil
	}
	return TransitionApply, &InvalidStateTransitionError{OrderID: orderID, From: current, To: target}
}

// Advance проверяет переход без списка допустимых исходных статусов: событие применяется
// из любого статуса, кроме самого target и статусов дальше него.
func Advance(current, target OrderStatus) TransitionDecision {
	if Reached(current, target) {
		return TransitionSkip
	}
	return TransitionApply
}

// CanCancel разрешает отмену только до отгрузки и только для "живого" заказа.
func CanCancel(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusPaymentConfirmed, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

// CanReturn разрешает возврат только для доставленного заказа.
func CanReturn(status OrderStatus) bool {
	return status == OrderStatusDelivered
}
