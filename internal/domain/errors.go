package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrItemNotFound       = errors.New("item not found")
	ErrQRGenerationFailed = errors.New("failed to generate QR")
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicateKey       = errors.New("order id already exists")
	ErrPaymentInProgress  = errors.New("payment already in progress")
	ErrNotPolling         = errors.New("order is not being polled")
)
