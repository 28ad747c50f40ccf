package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountAllocation is one account's row in the admin overview.
type AccountAllocation struct {
	AccountID     string
	AssignedCash  decimal.Decimal
	CashBalance   decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal // assigned − reserved; may be negative
	Overallocated bool
	Active        bool
	Frozen        bool
	Holdings      []HoldingValue
}

// HoldingValue is a holding expanded with its last known price.
type HoldingValue struct {
	Symbol       string
	Quantity     int64
	AvgCostBasis decimal.Decimal
	LastPrice    *decimal.Decimal
	MarketValue  *decimal.Decimal
}

// AllocationOverview aggregates the broker pool for administrators.
// Overallocated is set when TotalAssigned + TotalReserved exceeds
// BrokerCash; values are never clamped.
type AllocationOverview struct {
	BrokerCash     decimal.Decimal
	TotalAssigned  decimal.Decimal
	TotalReserved  decimal.Decimal
	TotalAvailable decimal.Decimal
	Unallocated    decimal.Decimal
	Overallocated  bool
	Accounts       []AccountAllocation
	GeneratedAt    time.Time
}
