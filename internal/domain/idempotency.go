package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// RequestFingerprint строит отпечаток запроса на создание заказа.
// Порядок позиций не влияет на результат; платёжный токен в отпечаток не входит.
func RequestFingerprint(userID, shippingAddressID string, items []ItemQuantity) string {
	totals := make(map[string]int64, len(items))
	for _, it := range items {
		totals[it.ProductID] += int64(it.Quantity)
	}
	products := make([]string, 0, len(totals))
	for id := range totals {
		products = append(products, id)
	}
	sort.Strings(products)

	var b strings.Builder
	b.WriteString(userID)
	b.WriteByte('|')
	b.WriteString(shippingAddressID)
	for _, id := range products {
		b.WriteByte('|')
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(totals[id], 10))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
