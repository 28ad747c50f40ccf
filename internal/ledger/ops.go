package ledger

import (
	"context"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// Reserve earmarks amount on the account in its own transaction.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return l.Update(ctx, accountID, func(tx *Tx) error {
		return tx.Reserve(amount)
	})
}

// Release returns amount of reserved cash in its own transaction.
func (l *Ledger) Release(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return l.Update(ctx, accountID, func(tx *Tx) error {
		return tx.Release(amount)
	})
}

// CommitBuy commits a buy fill in its own transaction.
func (l *Ledger) CommitBuy(ctx context.Context, accountID, symbol string, quantity int64, fillPrice, reservedAmount decimal.Decimal) (BuyResult, error) {
	var res BuyResult
	err := l.Update(ctx, accountID, func(tx *Tx) error {
		var err error
		res, err = tx.CommitBuy(symbol, quantity, fillPrice, reservedAmount)
		return err
	})
	return res, err
}

// CommitSell commits a sell fill in its own transaction.
func (l *Ledger) CommitSell(ctx context.Context, accountID, symbol string, quantity int64, fillPrice decimal.Decimal) (decimal.Decimal, error) {
	var proceeds decimal.Decimal
	err := l.Update(ctx, accountID, func(tx *Tx) error {
		var err error
		proceeds, err = tx.CommitSell(symbol, quantity, fillPrice)
		return err
	})
	return proceeds, err
}

// AdminAllocate adjusts the account's assigned cash by delta, opening the
// account on its first allocation.
func (l *Ledger) AdminAllocate(ctx context.Context, accountID string, delta decimal.Decimal) (AllocationResult, error) {
	var res AllocationResult
	err := l.UpdateOrCreate(ctx, accountID, func(tx *Tx) error {
		var err error
		res, err = tx.AdminAllocate(delta)
		return err
	})
	return res, err
}

// SetFrozen freezes or unfreezes the account.
func (l *Ledger) SetFrozen(ctx context.Context, accountID string, frozen bool) (*domain.Account, error) {
	var snap *domain.Account
	err := l.Update(ctx, accountID, func(tx *Tx) error {
		tx.SetFrozen(frozen)
		snap = tx.Account()
		return nil
	})
	return snap, err
}

// SetActive activates or soft-deactivates the account.
func (l *Ledger) SetActive(ctx context.Context, accountID string, active bool) (*domain.Account, error) {
	var snap *domain.Account
	err := l.Update(ctx, accountID, func(tx *Tx) error {
		tx.SetActive(active)
		snap = tx.Account()
		return nil
	})
	return snap, err
}
