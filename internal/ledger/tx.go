package ledger

import (
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// costBasisPlaces is the precision kept for average cost basis.
const costBasisPlaces = 4

// Tx is exclusive access to one account for the duration of an Update
// callback. It must not be retained after the callback returns.
type Tx struct {
	acct    *domain.Account
	now     time.Time
	dirty   bool
	created bool
}

// Account returns a read-only copy of the account's current state.
func (tx *Tx) Account() *domain.Account {
	return tx.acct.Clone()
}

// Created reports whether the account was opened by this transaction.
func (tx *Tx) Created() bool {
	return tx.created
}

// Reserve earmarks amount of available cash. It fails with an
// *domain.InsufficientFundsError when availability falls short.
func (tx *Tx) Reserve(amount decimal.Decimal) error {
	if err := tx.acct.CheckMutable(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return &domain.ValidationError{Message: "reservation amount must be positive"}
	}
	available := tx.acct.AvailableBalance()
	if available.LessThan(amount) {
		return &domain.InsufficientFundsError{Required: amount, Available: available}
	}
	tx.acct.ReservedBalance = tx.acct.ReservedBalance.Add(amount)
	tx.dirty = true
	return nil
}

// Release returns exactly amount of reserved cash to availability. It is
// permitted on frozen and inactive accounts so cancellations and
// rejections can always unwind. Callers guarantee a reservation is
// released at most once.
func (tx *Tx) Release(amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() || amount.GreaterThan(tx.acct.ReservedBalance) {
		return &domain.ValidationError{Message: "release amount exceeds reserved balance"}
	}
	tx.acct.ReservedBalance = tx.acct.ReservedBalance.Sub(amount)
	tx.dirty = true
	return nil
}

// BuyResult describes a committed buy.
type BuyResult struct {
	Cost     decimal.Decimal // quantity × fill price
	Released decimal.Decimal // part of the reservation returned to availability
}

// BuyingPower returns the most a buy holding reservedAmount can spend:
// its own reservation plus whatever else is available.
func (tx *Tx) BuyingPower(reservedAmount decimal.Decimal) decimal.Decimal {
	return tx.acct.AvailableBalance().Add(reservedAmount)
}

// CommitBuy spends quantity × fillPrice and consumes the intention's whole
// reservation. Any unspent part of the reservation becomes available
// again. A cost above the reservation is drawn from available cash and
// fails with *domain.InsufficientFundsError if that is not enough.
func (tx *Tx) CommitBuy(symbol string, quantity int64, fillPrice, reservedAmount decimal.Decimal) (BuyResult, error) {
	if err := tx.acct.CheckMutable(); err != nil {
		return BuyResult{}, err
	}
	if quantity <= 0 {
		return BuyResult{}, &domain.ValidationError{Message: "quantity must be positive"}
	}
	if reservedAmount.GreaterThan(tx.acct.ReservedBalance) {
		return BuyResult{}, &domain.ValidationError{Message: "reservation exceeds reserved balance"}
	}

	cost := domain.Notional(quantity, fillPrice)
	if power := tx.BuyingPower(reservedAmount); power.LessThan(cost) {
		return BuyResult{}, &domain.InsufficientFundsError{Required: cost, Available: power}
	}

	tx.acct.CashBalance = tx.acct.CashBalance.Sub(cost)
	tx.acct.ReservedBalance = tx.acct.ReservedBalance.Sub(reservedAmount)

	h, ok := tx.acct.Holdings[symbol]
	if !ok {
		h = &domain.Holding{Symbol: symbol, AvgCostBasis: decimal.Zero}
		tx.acct.Holdings[symbol] = h
	}
	totalCost := h.AvgCostBasis.Mul(decimal.NewFromInt(h.Quantity)).Add(cost)
	h.Quantity += quantity
	h.AvgCostBasis = totalCost.Div(decimal.NewFromInt(h.Quantity)).Round(costBasisPlaces)
	tx.dirty = true

	released := reservedAmount.Sub(cost)
	if released.IsNegative() {
		released = decimal.Zero
	}
	return BuyResult{Cost: cost, Released: released}, nil
}

// CommitSell removes quantity from the holding and credits the proceeds.
// Holdings are re-validated here; a shortfall yields
// *domain.InsufficientSharesError.
func (tx *Tx) CommitSell(symbol string, quantity int64, fillPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := tx.acct.CheckMutable(); err != nil {
		return decimal.Zero, err
	}
	if quantity <= 0 {
		return decimal.Zero, &domain.ValidationError{Message: "quantity must be positive"}
	}
	held := tx.acct.HeldQuantity(symbol)
	if held < quantity {
		return decimal.Zero, &domain.InsufficientSharesError{Symbol: symbol, Requested: quantity, Held: held}
	}

	proceeds := domain.Notional(quantity, fillPrice)
	h := tx.acct.Holdings[symbol]
	h.Quantity -= quantity
	if h.Quantity == 0 {
		delete(tx.acct.Holdings, symbol)
	}
	tx.acct.CashBalance = tx.acct.CashBalance.Add(proceeds)
	tx.dirty = true
	return proceeds, nil
}

// AllocationResult describes an applied AdminAllocate.
type AllocationResult struct {
	Delta        decimal.Decimal // change applied to assigned cash
	CashDelta    decimal.Decimal // change applied to cash balance
	Shortfall    decimal.Decimal // part of a reduction that reserved cash blocked
	AssignedCash decimal.Decimal
	Created      bool
}

// AdminAllocate moves delta into (or out of) the account's assigned cash.
// Cash follows the assignment, except a reduction never takes cash below
// what is reserved; the blocked remainder is reported as Shortfall and
// the assignment itself still moves by the full delta.
func (tx *Tx) AdminAllocate(delta decimal.Decimal) (AllocationResult, error) {
	if err := tx.acct.CheckMutable(); err != nil {
		return AllocationResult{}, err
	}

	res := AllocationResult{Delta: delta, CashDelta: delta, Shortfall: decimal.Zero, Created: tx.created}
	if delta.IsNegative() {
		avail := decimal.Max(tx.acct.AvailableBalance(), decimal.Zero)
		if reduction := delta.Neg(); reduction.GreaterThan(avail) {
			res.CashDelta = avail.Neg()
			res.Shortfall = reduction.Sub(avail)
		}
	}

	tx.acct.AssignedCash = tx.acct.AssignedCash.Add(delta)
	tx.acct.CashBalance = tx.acct.CashBalance.Add(res.CashDelta)
	tx.dirty = true
	res.AssignedCash = tx.acct.AssignedCash
	return res, nil
}

// SetFrozen toggles the frozen flag. It is allowed on inactive accounts.
func (tx *Tx) SetFrozen(frozen bool) {
	if tx.acct.Frozen != frozen {
		tx.acct.Frozen = frozen
		tx.dirty = true
	}
}

// SetActive toggles the active flag. Accounts are never deleted.
func (tx *Tx) SetActive(active bool) {
	if tx.acct.Active != active {
		tx.acct.Active = active
		tx.dirty = true
	}
}
