package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Возвращено больше единиц, чем было в позиции.
	ErrReturnedQtyInvalid = errors.New("returned qty must be between zero and item qty")
	// Возвращённая позиция ссылается на несуществующую позицию заказа.
	ErrReturnedItemOrphan = errors.New("returned item references unknown order item")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists возвращается при повторной вставке заказа с тем же ID или idempotency-key.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrStorage оборачивает сбои хранилища; такие ошибки считаются временными.
	ErrStorage = errors.New("storage failure")

	// Заказ находится в состоянии, из которого переход запрещён.
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	// Запрос на возврат не согласуется с позициями заказа.
	ErrInvalidReturnRequest = errors.New("invalid return request")
	// Событие возврата денег ссылается на позиции, которых нет в хранилище.
	ErrAuditIntegrity = errors.New("refund audit integrity violation")
	// В событии пришёл неизвестный тип возврата.
	ErrUnknownRefundType = errors.New("unknown refund type")
	// Входящее событие не удалось разобрать.
	ErrMalformedEvent = errors.New("malformed event payload")

	// Склад сообщил, что товара недостаточно (или сервис недоступен).
	ErrInventoryNotAvailable = errors.New("inventory not available")
	// Товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// Каталог товаров временно недоступен.
	ErrCatalogUnavailable = errors.New("product catalog unavailable")
	// Платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// Платёжный сервис недоступен, это не отказ в оплате.
	ErrPaymentServiceUnavailable = errors.New("payment service unavailable")

	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrPaymentTokenRequired   = errors.New("payment token is required")
	ErrReasonRequired         = errors.New("reason code is required")
	ErrShippingAddressMissing = errors.New("shipping_address_id is required")
	ErrProductIDRequired      = errors.New("product_id is required")

	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InvalidStateTransitionError уточняет, из какого состояния и куда пытались перевести заказ.
type InvalidStateTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// PaymentDeclinedError несёт код и сообщение отказа от платёжного провайдера.
type PaymentDeclinedError struct {
	Code    string
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment declined: %s", e.Code)
	}
	return fmt.Sprintf("payment declined: %s: %s", e.Code, e.Message)
}

func (e *PaymentDeclinedError) Unwrap() error {
	return ErrPaymentDeclined
}

// ValidationError описывает некорректный запрос, Err хранит конкретную причину.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsValidation проверяет, относится ли ошибка к некорректному запросу.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
