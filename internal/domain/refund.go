package domain

import "fmt"

// RefundType определяет, по какой причине запрошен возврат денег.
type RefundType string

const (
	RefundTypeCancellation    RefundType = "CANCELLATION"
	RefundTypeReturn          RefundType = "RETURN"
	RefundTypeInventoryFailed RefundType = "INVENTORY_FAILED"
)

// RefundHandlers — по одному обработчику на каждый вариант RefundType.
type RefundHandlers struct {
	Cancellation    func() error
	Return          func() error
	InventoryFailed func() error
}

// Dispatch вызывает обработчик, соответствующий типу возврата.
// На неизвестный тип или незаданный обработчик возвращается ErrUnknownRefundType.
func (t RefundType) Dispatch(h RefundHandlers) error {
	var fn func() error
	switch t {
	case RefundTypeCancellation:
		fn = h.Cancellation
	case RefundTypeReturn:
		fn = h.Return
	case RefundTypeInventoryFailed:
		fn = h.InventoryFailed
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRefundType, string(t))
	}
	if fn == nil {
		return fmt.Errorf("%w: no handler for %s", ErrUnknownRefundType, t)
	}
	return fn()
}

// Valid сообщает, известен ли тип возврата.
func (t RefundType) Valid() bool {
	switch t {
	case RefundTypeCancellation, RefundTypeReturn, RefundTypeInventoryFailed:
		return true
	default:
		return false
	}
}
