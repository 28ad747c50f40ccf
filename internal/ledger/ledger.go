// Package ledger owns every mutation of account balances and holdings.
//
// Each account is guarded by its own lock, acquired with a bounded wait.
// All work on an account happens inside Update, which runs a callback
// against the live account and restores the previous state if the
// callback fails, so a multi-step change either fully applies or leaves
// no trace.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/store"
	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long a caller waits for an account lock.
const DefaultLockTimeout = 2 * time.Second

// ErrInvariantViolation is returned when a transaction would leave an
// account with negative available cash or a negative holding. The
// transaction is rolled back.
var ErrInvariantViolation = errors.New("ledger_invariant_violation")

// Ledger serializes mutations per account.
type Ledger struct {
	accounts    store.AccountRepository
	lockTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLockTimeout sets the bounded wait for an account lock.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over the given account repository.
func New(accounts store.AccountRepository, opts ...Option) *Ledger {
	l := &Ledger{
		accounts:    accounts,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		locks:       make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) lockFor(accountID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.locks[accountID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[accountID] = sem
	}
	return sem
}

// acquire takes the account lock, waiting at most lockTimeout. A timeout
// surfaces as domain.ErrConcurrentModification so callers can retry; a
// cancelled parent context is returned as is.
func (l *Ledger) acquire(ctx context.Context, accountID string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	if err := l.lockFor(accountID).Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ErrConcurrentModification
	}
	return l.releaser(accountID), nil
}

// acquireWait takes the account lock with no bound other than ctx.
func (l *Ledger) acquireWait(ctx context.Context, accountID string) (func(), error) {
	if err := l.lockFor(accountID).Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return l.releaser(accountID), nil
}

func (l *Ledger) releaser(accountID string) func() {
	sem := l.lockFor(accountID)
	return func() { sem.Release(1) }
}

// Update runs fn with exclusive access to the account. If fn returns an
// error, or leaves the account violating its balance invariants, every
// change fn made is discarded.
func (l *Ledger) Update(ctx context.Context, accountID string, fn func(*Tx) error) error {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	acct, err := l.accounts.Get(accountID)
	if err != nil {
		return err
	}
	return l.apply(acct, false, fn)
}

// UpdateWait is Update without the lock timeout: it waits for the account
// lock until ctx is done. It is meant for cleanup that must not be
// dropped, such as returning a reservation after a failed settlement.
func (l *Ledger) UpdateWait(ctx context.Context, accountID string, fn func(*Tx) error) error {
	release, err := l.acquireWait(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	acct, err := l.accounts.Get(accountID)
	if err != nil {
		return err
	}
	return l.apply(acct, false, fn)
}

// UpdateOrCreate is Update for operations that may open an account, such
// as the first allocation.
func (l *Ledger) UpdateOrCreate(ctx context.Context, accountID string, fn func(*Tx) error) error {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	acct, created := l.accounts.GetOrCreate(accountID, l.now())
	return l.apply(acct, created, fn)
}

func (l *Ledger) apply(acct *domain.Account, created bool, fn func(*Tx) error) error {
	backup := acct.Clone()
	tx := &Tx{acct: acct, now: l.now(), created: created}

	err := fn(tx)
	if err == nil {
		err = checkInvariants(acct)
	}
	if err != nil {
		*acct = *backup
		return err
	}
	if tx.dirty {
		acct.UpdatedAt = tx.now
	}
	if tx.dirty || created {
		l.accounts.Put(acct)
	}
	return nil
}

func checkInvariants(a *domain.Account) error {
	if a.ReservedBalance.IsNegative() {
		return fmt.Errorf("%w: reserved balance %s is negative", ErrInvariantViolation, a.ReservedBalance)
	}
	if a.AvailableBalance().IsNegative() {
		return fmt.Errorf("%w: reserved %s exceeds cash %s", ErrInvariantViolation, a.ReservedBalance, a.CashBalance)
	}
	for sym, h := range a.Holdings {
		if h.Quantity < 0 {
			return fmt.Errorf("%w: holding %s is negative", ErrInvariantViolation, sym)
		}
	}
	return nil
}

// Snapshot returns a deep copy of the account taken under its lock.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) (*domain.Account, error) {
	var snap *domain.Account
	err := l.Update(ctx, accountID, func(tx *Tx) error {
		snap = tx.acct.Clone()
		return nil
	})
	return snap, err
}

// AccountIDs lists every known account in ascending order.
func (l *Ledger) AccountIDs() []string {
	return l.accounts.IDs()
}

// Open creates an empty active account if it does not exist yet.
func (l *Ledger) Open(ctx context.Context, accountID string) (*domain.Account, error) {
	var snap *domain.Account
	err := l.UpdateOrCreate(ctx, accountID, func(tx *Tx) error {
		snap = tx.acct.Clone()
		return nil
	})
	return snap, err
}
