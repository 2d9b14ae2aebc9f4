package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a service wraps exactly one of these.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrConflict           = errors.New("conflict")
	ErrExternalDependency = errors.New("external dependency error")
	ErrForbidden          = errors.New("forbidden")
)

// Error is a specific, user-actionable failure with a stable code.
// errors.Is matches the value itself and, through Unwrap, its kind.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrOrderNotFound     = newError(ErrNotFound, "order_not_found", "order not found")
	ErrCartNotFound      = newError(ErrNotFound, "cart_not_found", "cart not found")
	ErrPromotionNotFound = newError(ErrNotFound, "promotion_not_found", "promotion not found")
	ErrWalletNotFound    = newError(ErrNotFound, "wallet_not_found", "wallet not found")
	ErrRequestNotFound   = newError(ErrNotFound, "request_not_found", "request not found")
	ErrProductNotFound   = newError(ErrNotFound, "product_not_found", "store product not found")

	ErrPromotionInactive           = newError(ErrValidation, "promotion_inactive", "promotion is not active")
	ErrPromotionNotStarted         = newError(ErrValidation, "promotion_not_started", "promotion is not valid yet")
	ErrPromotionExpired            = newError(ErrValidation, "promotion_expired", "promotion is expired")
	ErrPromotionMinimumNotMet      = newError(ErrValidation, "promotion_minimum_not_met", "order amount is below the promotion minimum")
	ErrPromotionNotEligible        = newError(ErrValidation, "promotion_tier_not_eligible", "customer tier is not eligible for this promotion")
	ErrPromotionCustomerCapReached = newError(ErrConflict, "promotion_customer_cap_reached", "customer has reached the per-customer usage cap")
	ErrPromotionLimitReached       = newError(ErrConflict, "promotion_limit_reached", "promotion usage limit reached")
	ErrDuplicatePromotionUsage     = newError(ErrConflict, "promotion_duplicate_usage", "promotion already applied to this order")

	ErrEmptyCart          = newError(ErrValidation, "empty_cart", "cart has no purchasable items")
	ErrInsufficientStock  = newError(ErrConflict, "insufficient_stock", "insufficient stock")
	ErrPaymentNotCaptured = newError(ErrValidation, "payment_not_captured", "online payment has not succeeded yet")

	ErrRequestAlreadyExists  = newError(ErrConflict, "request_already_exists", "request already exists")
	ErrRequestAlreadyDecided = newError(ErrConflict, "request_already_decided", "request already decided")
	ErrRequestNotEligible    = newError(ErrValidation, "request_not_eligible", "not eligible for this order status")
	ErrReturnWindowClosed    = newError(ErrValidation, "return_window_closed", "return window has closed")

	ErrInsufficientBalance = newError(ErrConflict, "insufficient_balance", "insufficient wallet balance")
	ErrWalletSuspended     = newError(ErrConflict, "wallet_suspended", "wallet is suspended")
	ErrWalletExists        = newError(ErrConflict, "wallet_exists", "wallet already exists")
)

func NewValidationError(msg string) *Error {
	return newError(ErrValidation, "validation_error", msg)
}

func NewForbiddenError(msg string) *Error {
	return newError(ErrForbidden, "forbidden", msg)
}

func NewExternalError(dependency string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalDependency, dependency, err)
}

// TransitionError names the current and requested status of a rejected
// state machine transition.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Code returns the stable machine-readable code for err, or "internal_error".
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return "invalid_transition"
	}
	switch {
	case errors.Is(err, ErrExternalDependency):
		return "external_dependency"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "internal_error"
}
