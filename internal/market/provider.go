// Package market supplies the per-instrument price snapshot a batch
// executes against.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable marks a quote that could not be obtained. Providers wrap
// it so callers can test with errors.Is.
var ErrUnavailable = errors.New("market data unavailable")

// Quote is one instrument's price at a point in time.
type Quote struct {
	Ref      string
	Price    decimal.Decimal
	Currency string
	AsOf     time.Time

	// MaxBuyQty and MaxSellQty cap how many units can be delivered in one
	// batch, across all accounts. Nil means unrestricted.
	MaxBuyQty  *int64
	MaxSellQty *int64
}

// Provider returns the current quote for a broker contract reference.
type Provider interface {
	GetPrice(ctx context.Context, ref string) (Quote, error)
}
