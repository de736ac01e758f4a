package domain

import (
	"fmt"
	"math"
)

// ProductDetails — снимок товара из каталога на момент оформления заказа.
type ProductDetails struct {
	ProductID      string
	ProductName    string
	UnitPriceMinor int64
	Currency       string
}

// ItemQuantity — пара (товар, количество) для запросов на списание/возврат остатков и возвратов.
type ItemQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// Validate проверяет корректность пары товар/количество.
func (q ItemQuantity) Validate() []error {
	var errs []error

	if q.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if q.Quantity <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}

// MergeItemQuantities объединяет повторяющиеся товары, сохраняя порядок первого появления.
// Суммы считаются в int64; итог по товару должен быть положительным и помещаться в int32.
func MergeItemQuantities(items []ItemQuantity) ([]ItemQuantity, error) {
	index := make(map[string]int, len(items))
	totals := make([]int64, 0, len(items))
	merged := make([]ItemQuantity, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			totals[i] += int64(it.Quantity)
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, ItemQuantity{ProductID: it.ProductID})
		totals = append(totals, int64(it.Quantity))
	}
	for i, total := range totals {
		if total <= 0 || total > math.MaxInt32 {
			return nil, fmt.Errorf("%w: product %s: total qty %d out of range", ErrItemQtyInvalid, merged[i].ProductID, total)
		}
		merged[i].Quantity = int32(total)
	}
	return merged, nil
}
