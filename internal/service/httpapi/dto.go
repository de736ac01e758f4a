package httpapi

import (
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type createOrderRequest struct {
	UserID            string                `json:"user_id"`
	ShippingAddressID string                `json:"shipping_address_id"`
	Currency          string                `json:"currency,omitempty"`
	Items             []domain.ItemQuantity `json:"items"`
}

type cancelOrderRequest struct {
	ReasonCode string `json:"reason_code"`
}

type returnOrderRequest struct {
	ReasonCode string                `json:"reason_code"`
	Notes      string                `json:"notes,omitempty"`
	Items      []domain.ItemQuantity `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	UnitPrice      string `json:"unit_price"`
	Quantity       int32  `json:"quantity"`
	ReturnedQty    int32  `json:"returned_quantity"`
	SubtotalMinor  int64  `json:"subtotal_minor"`
}

type returnedItemResponse struct {
	ID                  string     `json:"id"`
	OrderItemID         string     `json:"order_item_id"`
	ProductID           string     `json:"product_id"`
	Quantity            int32      `json:"quantity"`
	RefundType          string     `json:"refund_type"`
	Reason              string     `json:"reason"`
	RefundStatus        string     `json:"refund_status"`
	RefundTransactionID string     `json:"refund_transaction_id,omitempty"`
	RefundAmountMinor   int64      `json:"refund_amount_minor"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
}

type orderResponse struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"user_id"`
	ShippingAddressID    string                 `json:"shipping_address_id"`
	Status               string                 `json:"status"`
	Currency             string                 `json:"currency"`
	TotalMinor           int64                  `json:"total_minor"`
	Total                string                 `json:"total"`
	PaymentTransactionID string                 `json:"payment_transaction_id,omitempty"`
	PaymentConfirmedAt   *time.Time             `json:"payment_confirmed_at,omitempty"`
	OrderConfirmedAt     *time.Time             `json:"order_confirmed_at,omitempty"`
	FullReturn           bool                   `json:"full_return"`
	Items                []orderItemResponse    `json:"items"`
	ReturnedItems        []returnedItemResponse `json:"returned_items,omitempty"`
	Version              int64                  `json:"version"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

type orderPageResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
	Total  int             `json:"total"`
}

type timelineEventResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceMinor: item.UnitPriceMinor,
			UnitPrice:      domain.FromMinorUnits(item.UnitPriceMinor).StringFixed(2),
			Quantity:       item.Qty,
			ReturnedQty:    item.ReturnedQty,
			SubtotalMinor:  item.SubtotalMinor,
		})
	}

	var returned []returnedItemResponse
	for _, ri := range order.ReturnedItems {
		returned = append(returned, returnedItemResponse{
			ID:                  ri.ID,
			OrderItemID:         ri.OrderItemID,
			ProductID:           ri.ProductID,
			Quantity:            ri.Qty,
			RefundType:          string(ri.RefundType),
			Reason:              ri.Reason,
			RefundStatus:        string(ri.RefundStatus),
			RefundTransactionID: ri.RefundTransactionID,
			RefundAmountMinor:   ri.RefundAmountMinor,
			RefundedAt:          ri.RefundedAt,
		})
	}

	return orderResponse{
		ID:                   order.ID,
		UserID:               order.UserID,
		ShippingAddressID:    order.ShippingAddressID,
		Status:               string(order.Status),
		Currency:             order.Currency,
		TotalMinor:           order.TotalMinor,
		Total:                domain.FromMinorUnits(order.TotalMinor).StringFixed(2),
		PaymentTransactionID: order.PaymentTransactionID,
		PaymentConfirmedAt:   order.PaymentConfirmedAt,
		OrderConfirmedAt:     order.OrderConfirmedAt,
		FullReturn:           order.FullReturn,
		Items:                items,
		ReturnedItems:        returned,
		Version:              order.Version,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}
