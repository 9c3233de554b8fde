package domain

import "errors"

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentDeclined       = errors.New("payment declined by provider")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable, retry later")
	ErrProviderMisconfigured = errors.New("payment provider misconfigured")
	ErrNotSupported          = errors.New("operation not supported by provider")
	ErrInvalidRequest        = errors.New("invalid payment request")
	ErrIdempotencyConflict   = errors.New("idempotency key reused with different parameters")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrAlreadyExists         = errors.New("already exists")
	ErrSystem                = errors.New("system error")
)
