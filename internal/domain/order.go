package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в саге.
type OrderStatus string

const (
	// Заказ создан, оплата и резервирование ещё не подтверждены.
	OrderStatusPending OrderStatus = "PENDING"
	// Платёжный сервис подтвердил списание.
	OrderStatusPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"
	// Списание не удалось, сага завершена.
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
	// Склад зарезервировал товары, заказ готов к отгрузке.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// Склад не смог зарезервировать товары, идёт компенсация оплаты.
	OrderStatusInventoryFailed OrderStatus = "INVENTORY_FAILED"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	// Отмена принята, ждём подтверждения возврата денег.
	OrderStatusPendingCancellation OrderStatus = "PENDING_CANCELLATION"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
	// Полный возврат принят, ждём подтверждения возврата денег.
	OrderStatusPendingReturned OrderStatus = "PENDING_RETURNED"
	OrderStatusReturned        OrderStatus = "RETURNED"
	// Частичный возврат принят, ждём подтверждения возврата денег.
	OrderStatusPendingPartiallyReturned OrderStatus = "PENDING_PARTIALLY_RETURNED"
	OrderStatusPartiallyReturned        OrderStatus = "PARTIALLY_RETURNED"
	// Сага не может согласовать состояние автоматически.
	OrderStatusManualIntervention OrderStatus = "MANUAL_INTERVENTION_REQUIRED"
)

// IsTerminal сообщает, завершён ли жизненный цикл заказа.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusReturned,
		OrderStatusPartiallyReturned, OrderStatusDelivered, OrderStatusManualIntervention:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentConfirmed, OrderStatusPaymentFailed,
		OrderStatusConfirmed, OrderStatusInventoryFailed, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusPendingCancellation, OrderStatusCancelled,
		OrderStatusPendingReturned, OrderStatusReturned,
		OrderStatusPendingPartiallyReturned, OrderStatusPartiallyReturned,
		OrderStatusManualIntervention:
		return true
	default:
		return false
	}
}

// RefundStatus отражает состояние возврата денег по отдельной возвращённой позиции.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// OrderItem представляет одну позицию заказа: снимок товара на момент оформления.
type OrderItem struct {
	// ID позиции нужен для ссылок из ReturnedItem и аудита.
	ID      string
	OrderID string
	// Внешний идентификатор товара в каталоге.
	ProductID   string
	ProductName string
	// Цена за единицу в минимальных денежных единицах (центы).
	UnitPriceMinor int64
	Qty            int32
	SubtotalMinor  int64
	// Сколько единиц уже отменено или возвращено.
	ReturnedQty int32
	CreatedAt   time.Time
}

// RemainingQty возвращает количество единиц, которые ещё можно вернуть.
func (i OrderItem) RemainingQty() int32 {
	return i.Qty - i.ReturnedQty
}

// ReturnedItem — единица отмены или возврата, привязанная к позиции заказа по OrderItemID.
// Записи никогда не удаляются: это аудиторский след возвратов денег.
type ReturnedItem struct {
	ID          string
	OrderID     string
	OrderItemID string
	ProductID   string
	Qty         int32
	RefundType  RefundType
	Reason      string

	RefundStatus RefundStatus
	// RefundTransactionID заполняется один раз при подтверждении возврата.
	RefundTransactionID string
	RefundedAt          *time.Time
	RefundAmountMinor   int64
	CreatedAt           time.Time
}

// Order агрегирует состояние заказа, его позиции и возвраты.
type Order struct {
	ID             string
	IdempotencyKey string
	// Отпечаток запроса на создание, нужен для обнаружения повторного ключа с другим телом.
	RequestHash       string
	UserID            string
	ShippingAddressID string
	Status            OrderStatus
	Currency          string
	// TotalMinor фиксируется при создании и больше не меняется.
	TotalMinor           int64
	PaymentTransactionID string
	PaymentConfirmedAt   *time.Time
	OrderConfirmedAt     *time.Time
	FullReturn           bool

	Items         []OrderItem
	ReturnedItems []ReturnedItem

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemByID ищет позицию по идентификатору и возвращает её индекс в Items.
func (o *Order) ItemByID(id string) (int, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// ItemByProduct ищет позицию по идентификатору товара.
func (o *Order) ItemByProduct(productID string) (int, bool) {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// ReturnedItemsByIDs возвращает индексы найденных возвращённых позиций (без дублей) в порядке запроса.
func (o *Order) ReturnedItemsByIDs(ids []string) []int {
	index := make(map[string]int, len(o.ReturnedItems))
	for i := range o.ReturnedItems {
		index[o.ReturnedItems[i].ID] = i
	}

	seen := make(map[string]struct{}, len(ids))
	found := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if i, ok := index[id]; ok {
			found = append(found, i)
		}
	}
	return found
}

func (o *Order) TotalQty() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Qty)
	}
	return total
}

func (o *Order) TotalReturnedQty() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.ReturnedQty)
	}
	return total
}

// IsFullyReturned сообщает, возвращены ли все единицы по всем позициям.
func (o *Order) IsFullyReturned() bool {
	for _, item := range o.Items {
		if item.RemainingQty() != 0 {
			return false
		}
	}
	return len(o.Items) > 0
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сумма заказа равна сумме подытогов позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.SubtotalMinor != int64(item.Qty)*item.UnitPriceMinor {
			errs = append(errs, ErrAmountMismatch)
		}
		if item.ReturnedQty < 0 || item.RemainingQty() < 0 {
			errs = append(errs, ErrReturnedQtyInvalid)
		}
		calc += item.SubtotalMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	for _, ri := range o.ReturnedItems {
		if _, ok := o.ItemByID(ri.OrderItemID); !ok {
			errs = append(errs, ErrReturnedItemOrphan)
		}
	}

	return errs
}
