package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountNotFound         = errors.New("account_not_found")
	ErrAccountFrozen           = errors.New("account_frozen")
	ErrAccountInactive         = errors.New("account_inactive")
	ErrIntentionNotFound       = errors.New("intention_not_found")
	ErrIntentionNotCancellable = errors.New("intention_not_cancellable")
	ErrInvalidTransition       = errors.New("invalid_transition")
	ErrInsufficientFunds       = errors.New("insufficient_funds")
	ErrInsufficientShares      = errors.New("insufficient_shares")
	ErrInvalidInstrument       = errors.New("invalid_instrument")
	ErrOrdersLocked            = errors.New("orders_locked")
	ErrMarketDataUnavailable   = errors.New("market_data_unavailable")
	ErrConcurrentModification  = errors.New("concurrent_modification")
	ErrWebhookNotFound         = errors.New("webhook_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InsufficientFundsError carries the amounts behind a failed reservation.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("Insufficient funds: %s required, %s available",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// InsufficientSharesError carries the quantities behind a rejected sell.
type InsufficientSharesError struct {
	Symbol    string
	Requested int64
	Held      int64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("Cannot sell %d shares, you own %d", e.Requested, e.Held)
}

func (e *InsufficientSharesError) Unwrap() error {
	return ErrInsufficientShares
}
