package domain

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrPolicyNotFound    = errors.New("policy not found")
	ErrPolicyInactive    = errors.New("policy is not available for purchase")
	ErrInvalidOrder      = errors.New("invalid order data")
	ErrInvalidPolicy     = errors.New("invalid policy data")
	ErrOrderNotPending   = errors.New("order is not awaiting payment")
	ErrPaymentInitiation = errors.New("failed to initiate payment")
)
