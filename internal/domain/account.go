package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Holding represents an account's position in a single instrument.
type Holding struct {
	Symbol       string
	Quantity     int64
	AvgCostBasis decimal.Decimal
}

// Account is a user's virtual book inside the shared broker account.
// All mutations go through the ledger, which serializes them per account.
type Account struct {
	AccountID       string
	CashBalance     decimal.Decimal
	ReservedBalance decimal.Decimal // cash earmarked by pending buy intentions
	AssignedCash    decimal.Decimal // share of the broker pool allotted by an admin
	Active          bool
	Frozen          bool
	Holdings        map[string]*Holding // symbol → holding
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAccount returns an active, empty account.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		AccountID:       id,
		CashBalance:     decimal.Zero,
		ReservedBalance: decimal.Zero,
		AssignedCash:    decimal.Zero,
		Active:          true,
		Holdings:        make(map[string]*Holding),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AvailableBalance returns cash not earmarked by reservations.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.CashBalance.Sub(a.ReservedBalance)
}

// HeldQuantity returns the quantity held for symbol, or 0.
func (a *Account) HeldQuantity(symbol string) int64 {
	h, ok := a.Holdings[symbol]
	if !ok {
		return 0
	}
	return h.Quantity
}

// CheckMutable returns ErrAccountInactive or ErrAccountFrozen when the
// account must not be mutated.
func (a *Account) CheckMutable() error {
	if !a.Active {
		return ErrAccountInactive
	}
	if a.Frozen {
		return ErrAccountFrozen
	}
	return nil
}

// Clone returns a deep copy, used both for rollback and for handing
// snapshots to readers outside the account lock.
func (a *Account) Clone() *Account {
	c := *a
	c.Holdings = make(map[string]*Holding, len(a.Holdings))
	for sym, h := range a.Holdings {
		hc := *h
		c.Holdings[sym] = &hc
	}
	return &c
}

// SortedHoldings returns holdings ordered by symbol.
func (a *Account) SortedHoldings() []Holding {
	out := make([]Holding, 0, len(a.Holdings))
	for _, h := range a.Holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
