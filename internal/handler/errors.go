package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/efreitasn/batchbroker/internal/domain"
)

// statusFor lists the sentinel errors with a fixed HTTP status. The error
// code in the response body is the sentinel's text.
var statusFor = []struct {
	err    error
	status int
}{
	{domain.ErrAccountNotFound, http.StatusNotFound},
	{domain.ErrIntentionNotFound, http.StatusNotFound},
	{domain.ErrWebhookNotFound, http.StatusNotFound},
	{domain.ErrInvalidInstrument, http.StatusNotFound},
	{domain.ErrInsufficientFunds, http.StatusConflict},
	{domain.ErrInsufficientShares, http.StatusConflict},
	{domain.ErrOrdersLocked, http.StatusConflict},
	{domain.ErrIntentionNotCancellable, http.StatusConflict},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrAccountFrozen, http.StatusForbidden},
	{domain.ErrAccountInactive, http.StatusForbidden},
	{domain.ErrConcurrentModification, http.StatusServiceUnavailable},
	{domain.ErrMarketDataUnavailable, http.StatusServiceUnavailable},
}

// mapError maps domain errors to HTTP responses. Unknown errors become a
// generic 500 and are logged with their detail.
func mapError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			WriteError(w, m.status, m.err.Error(), errorMessage(err, m.err))
			return
		}
	}

	logger.Error("unhandled error", slog.String("error", err.Error()))
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

// errorMessage prefers the typed errors' display text, falling back to a
// readable form of the sentinel.
func errorMessage(err, sentinel error) string {
	var funds *domain.InsufficientFundsError
	if errors.As(err, &funds) {
		return funds.Error()
	}
	var shares *domain.InsufficientSharesError
	if errors.As(err, &shares) {
		return shares.Error()
	}
	switch {
	case errors.Is(err, domain.ErrOrdersLocked):
		return "Orders are locked until the batch executes"
	case errors.Is(err, domain.ErrMarketDataUnavailable):
		return "Market data unavailable, please retry"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "The account is busy, please retry"
	}
	return sentinel.Error()
}
