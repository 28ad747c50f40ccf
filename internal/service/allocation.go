package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultOverviewTTL is how long an admin overview may be served stale.
const DefaultOverviewTTL = 2 * time.Second

// AllocationOutcome is the result of setting an account's target
// allocation.
type AllocationOutcome struct {
	AccountID     string
	Target        decimal.Decimal
	Applied       ledger.AllocationResult
	Available     decimal.Decimal // assigned − reserved after the change
	Overallocated bool
}

// AllocationService manages how the broker's real cash is split across
// virtual accounts. It is the only writer of broker cash.
type AllocationService struct {
	ledger   *ledger.Ledger
	journal  store.Journal
	notifier engine.Notifier
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	brokerCash decimal.Decimal

	group    singleflight.Group
	cacheMu  sync.Mutex
	cached   *domain.AllocationOverview
	cachedAt time.Time
}

// NewAllocationService creates a new AllocationService.
func NewAllocationService(
	l *ledger.Ledger,
	journal store.Journal,
	notifier engine.Notifier,
	logger *slog.Logger,
	brokerCash decimal.Decimal,
	ttl time.Duration,
) *AllocationService {
	if ttl <= 0 {
		ttl = DefaultOverviewTTL
	}
	return &AllocationService{
		ledger:     l,
		journal:    journal,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "allocation")),
		ttl:        ttl,
		now:        time.Now,
		brokerCash: brokerCash,
	}
}

// SetTarget moves the account's assigned cash to target. Only an increase
// notifies the account. A target that leaves the account or the pool
// overcommitted is applied anyway and flagged.
func (s *AllocationService) SetTarget(ctx context.Context, accountID, target string) (*AllocationOutcome, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(target)
	if err != nil {
		return nil, &domain.ValidationError{Message: "target: " + err.Error()}
	}
	if amount.IsNegative() {
		return nil, &domain.ValidationError{Message: "target must be >= 0"}
	}

	var (
		res   ledger.AllocationResult
		after *domain.Account
	)
	err = s.ledger.UpdateOrCreate(ctx, accountID, func(tx *ledger.Tx) error {
		acct := tx.Account()
		var err error
		res, err = tx.AdminAllocate(amount.Sub(acct.AssignedCash))
		after = tx.Account()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()

	out := &AllocationOutcome{
		AccountID: accountID,
		Target:    amount,
		Applied:   res,
		Available: after.AssignedCash.Sub(after.ReservedBalance),
	}
	out.Overallocated = out.Available.IsNegative() || s.poolOverallocated(ctx)

	if res.Delta.IsPositive() && s.notifier != nil {
		s.notifier.Notify(accountID, domain.EventAllocationIncreased, res)
	}
	s.logger.Info("allocation applied",
		slog.String("account_id", accountID),
		slog.String("delta", domain.FormatAmount(res.Delta)),
		slog.String("shortfall", domain.FormatAmount(res.Shortfall)),
		slog.Bool("overallocated", out.Overallocated),
	)
	return out, nil
}

func (s *AllocationService) poolOverallocated(ctx context.Context) bool {
	ov, err := s.build(ctx)
	if err != nil {
		s.logger.Warn("overallocation check failed", slog.String("error", err.Error()))
		return false
	}
	return ov.Overallocated
}

// BrokerCash returns the real broker balance.
func (s *AllocationService) BrokerCash() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brokerCash
}

// SetBrokerCash records the real broker balance.
func (s *AllocationService) SetBrokerCash(amount string) (decimal.Decimal, error) {
	cash, err := domain.ParseAmount(amount)
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Message: "broker_cash: " + err.Error()}
	}
	if cash.IsNegative() {
		return decimal.Zero, &domain.ValidationError{Message: "broker_cash must be >= 0"}
	}

	s.mu.Lock()
	s.brokerCash = cash
	s.mu.Unlock()
	s.invalidate()

	s.logger.Info("broker cash updated", slog.String("broker_cash", domain.FormatAmount(cash)))
	return cash, nil
}

// Overview returns the pool aggregate. It may be up to the TTL stale;
// concurrent callers share one rebuild.
func (s *AllocationService) Overview(ctx context.Context) (*domain.AllocationOverview, error) {
	s.cacheMu.Lock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.ttl {
		ov := s.cached
		s.cacheMu.Unlock()
		return ov, nil
	}
	s.cacheMu.Unlock()

	v, err, _ := s.group.Do("overview", func() (any, error) {
		ov, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.cacheMu.Lock()
		s.cached = ov
		s.cachedAt = s.now()
		s.cacheMu.Unlock()
		return ov, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AllocationOverview), nil
}

func (s *AllocationService) invalidate() {
	s.cacheMu.Lock()
	s.cached = nil
	s.cacheMu.Unlock()
}

func (s *AllocationService) build(ctx context.Context) (*domain.AllocationOverview, error) {
	last, err := s.journal.LastReport(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last batch: %w", err)
	}
	prices := lastPrices(last)

	ov := &domain.AllocationOverview{
		BrokerCash:     s.BrokerCash(),
		TotalAssigned:  decimal.Zero,
		TotalReserved:  decimal.Zero,
		TotalAvailable: decimal.Zero,
		Accounts:       make([]domain.AccountAllocation, 0),
		GeneratedAt:    s.now().UTC(),
	}
	for _, id := range s.ledger.AccountIDs() {
		acct, err := s.ledger.Snapshot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", id, err)
		}
		available := acct.AssignedCash.Sub(acct.ReservedBalance)
		ov.Accounts = append(ov.Accounts, domain.AccountAllocation{
			AccountID:     acct.AccountID,
			AssignedCash:  acct.AssignedCash,
			CashBalance:   acct.CashBalance,
			Reserved:      acct.ReservedBalance,
			Available:     available,
			Overallocated: available.IsNegative(),
			Active:        acct.Active,
			Frozen:        acct.Frozen,
			Holdings:      valueHoldings(acct, prices),
		})
		ov.TotalAssigned = ov.TotalAssigned.Add(acct.AssignedCash)
		ov.TotalReserved = ov.TotalReserved.Add(acct.ReservedBalance)
		ov.TotalAvailable = ov.TotalAvailable.Add(available)
	}
	ov.Unallocated = ov.BrokerCash.Sub(ov.TotalAssigned).Sub(ov.TotalReserved)
	ov.Overallocated = ov.Unallocated.IsNegative()
	return ov, nil
}
