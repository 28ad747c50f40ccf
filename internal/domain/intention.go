package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit intentions from market intentions.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Side indicates whether an intention buys or sells.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IntentionStatus represents the lifecycle state of an intention.
type IntentionStatus string

const (
	StatusPending         IntentionStatus = "pending"
	StatusExecuting       IntentionStatus = "executing"
	StatusFilled          IntentionStatus = "filled"
	StatusPartiallyFilled IntentionStatus = "partially_filled"
	StatusCancelled       IntentionStatus = "cancelled"
	StatusRejected        IntentionStatus = "rejected"
)

// Status messages set by the execution engine.
const (
	MsgLimitNotReached       = "limit not reached"
	MsgMarketDataUnavailable = "market data unavailable, please resubmit"
	MsgInsufficientShares    = "insufficient shares at execution"
	MsgInsufficientFunds     = "insufficient funds at execution"
	MsgNoLiquidity           = "no deliverable quantity in this batch"
	MsgAccountFrozen         = "account frozen"
	MsgAccountInactive       = "account inactive"
	MsgPartialFill           = "partially filled"
	MsgSettlementFailed      = "execution failed, please resubmit"
)

// transitions lists the legal edges of the intention state machine.
var transitions = map[IntentionStatus][]IntentionStatus{
	StatusPending:   {StatusExecuting, StatusCancelled},
	StatusExecuting: {StatusFilled, StatusPartiallyFilled, StatusRejected},
}

// IsTerminal reports whether no further transition is possible.
func (s IntentionStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Valid reports whether s is a known status.
func (s IntentionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusExecuting, StatusFilled, StatusPartiallyFilled,
		StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Intention is a user's buy/sell instruction awaiting batch execution.
type Intention struct {
	ID             string
	AccountID      string
	Symbol         string
	InstrumentRef  string
	Side           Side
	Quantity       int64
	OrderType      OrderType
	LimitPrice     *decimal.Decimal
	EstimatedPrice decimal.Decimal
	ReservedAmount decimal.Decimal // buy only; fixed at creation
	Status         IntentionStatus
	StatusMessage  string
	SubmittedAt    time.Time
	ExecutedAt     *time.Time
	CancelledAt    *time.Time

	BatchID        string
	FilledQuantity int64
	FillPrice      *decimal.Decimal
	ActualCost     decimal.Decimal // buy cost or sell proceeds
	ReleasedAmount decimal.Decimal
	Released       bool // reservation returned to the ledger
}

// Transition moves the intention to next, returning ErrInvalidTransition
// for edges the state machine does not allow.
func (i *Intention) Transition(next IntentionStatus) error {
	for _, allowed := range transitions[i.Status] {
		if allowed == next {
			i.Status = next
			return nil
		}
	}
	return ErrInvalidTransition
}

// HoldsReservation reports whether the intention still has cash earmarked.
func (i *Intention) HoldsReservation() bool {
	return i.Side == SideBuy && !i.Released && i.ReservedAmount.IsPositive()
}

// Clone returns a copy safe to hand out of the store.
func (i *Intention) Clone() *Intention {
	c := *i
	if i.LimitPrice != nil {
		lp := *i.LimitPrice
		c.LimitPrice = &lp
	}
	if i.FillPrice != nil {
		fp := *i.FillPrice
		c.FillPrice = &fp
	}
	if i.ExecutedAt != nil {
		t := *i.ExecutedAt
		c.ExecutedAt = &t
	}
	if i.CancelledAt != nil {
		t := *i.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
