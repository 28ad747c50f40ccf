package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchWindow is the process-wide scheduling state exposed to clients.
type BatchWindow struct {
	NextBatchAt        time.Time
	CancellationCutoff time.Time
	OrdersLocked       bool
	LastBatchDate      string // YYYY-MM-DD in the batch timezone, empty before the first run
}

// Fill records one executed intention inside a batch.
type Fill struct {
	BatchID     string
	IntentionID string
	AccountID   string
	Symbol      string
	Side        Side
	Quantity    int64
	Price       decimal.Decimal
	Amount      decimal.Decimal // quantity × price
	ExecutedAt  time.Time
}

// BatchReport summarizes one execution pass.
type BatchReport struct {
	BatchID         string
	BatchDate       string
	StartedAt       time.Time
	FinishedAt      time.Time
	Processed       int
	Filled          int
	PartiallyFilled int
	Rejected        int
	Prices          map[string]decimal.Decimal // symbol → snapshot price
	Unavailable     []string                   // symbols without market data
	Fills           []Fill
}
