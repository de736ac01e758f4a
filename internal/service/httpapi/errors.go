package httpapi

import (
	"errors"
	"net/http"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// statusFor сопоставляет ошибку команды HTTP-статусу и машинному коду ответа.
func statusFor(err error) (int, string) {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrInvalidReturnRequest):
		return http.StatusConflict, "invalid_return_request"
	case errors.Is(err, domain.ErrInventoryNotAvailable):
		return http.StatusConflict, "inventory_not_available"
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusUnprocessableEntity, "product_not_found"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, domain.ErrPaymentServiceUnavailable), errors.Is(err, domain.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
