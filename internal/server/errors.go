package server

import (
	"errors"
	"net/http"

	"topup-checkout/internal/domain"
)

const purchaseFormMessage = "Please fill Server ID, Zone ID and choose an item."

// statusFor maps service errors to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, purchaseFormMessage
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "Item not found"
	case errors.Is(err, domain.ErrQRGenerationFailed):
		return http.StatusBadGateway, "Failed to generate QR"
	case errors.Is(err, domain.ErrPaymentInProgress):
		return http.StatusConflict, domain.ErrPaymentInProgress.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrNotPolling):
		return http.StatusNotFound, domain.ErrNotPolling.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
