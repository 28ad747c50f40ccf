package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/shopspring/decimal"
)

var (
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	symbolRegex    = regexp.MustCompile(`^[A-Z]{1,10}$`)
)

func validateAccountID(id string) error {
	if !accountIDRegex.MatchString(id) {
		return &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	return nil
}

// Portfolio is an account's balances and holdings as seen by its owner.
type Portfolio struct {
	AccountID        string
	CashBalance      decimal.Decimal
	ReservedBalance  decimal.Decimal
	AvailableBalance decimal.Decimal
	AssignedCash     decimal.Decimal
	Active           bool
	Frozen           bool
	Holdings         []domain.HoldingValue
	PendingCount     int
	LastBatchDate    string
	RecentFills      []domain.Fill
	UpdatedAt        time.Time
}

// maxRecentFills bounds the fill history embedded in a portfolio.
const maxRecentFills = 20

// AccountService serves portfolio reads and account administration.
type AccountService struct {
	ledger     *ledger.Ledger
	intentions store.IntentionRepository
	journal    store.Journal
}

// NewAccountService creates a new AccountService.
func NewAccountService(l *ledger.Ledger, intentions store.IntentionRepository, journal store.Journal) *AccountService {
	return &AccountService{
		ledger:     l,
		intentions: intentions,
		journal:    journal,
	}
}

// Portfolio returns the account's balances, holdings valued at the last
// batch's snapshot prices, and its most recent fills.
func (s *AccountService) Portfolio(ctx context.Context, accountID string) (*Portfolio, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}

	acct, err := s.ledger.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	last, err := s.journal.LastReport(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last batch: %w", err)
	}
	fills, err := s.journal.FillsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load fills: %w", err)
	}
	if len(fills) > maxRecentFills {
		fills = fills[len(fills)-maxRecentFills:]
	}

	status := domain.StatusPending
	_, pending := s.intentions.ListByAccount(accountID, &status, 1, 1)

	p := &Portfolio{
		AccountID:        acct.AccountID,
		CashBalance:      acct.CashBalance,
		ReservedBalance:  acct.ReservedBalance,
		AvailableBalance: acct.AvailableBalance(),
		AssignedCash:     acct.AssignedCash,
		Active:           acct.Active,
		Frozen:           acct.Frozen,
		Holdings:         valueHoldings(acct, lastPrices(last)),
		PendingCount:     pending,
		RecentFills:      fills,
		UpdatedAt:        acct.UpdatedAt,
	}
	if last != nil {
		p.LastBatchDate = last.BatchDate
	}
	return p, nil
}

func lastPrices(report *domain.BatchReport) map[string]decimal.Decimal {
	if report == nil {
		return nil
	}
	return report.Prices
}

// valueHoldings expands holdings with their last known price. Holdings
// without a price keep nil LastPrice and MarketValue.
func valueHoldings(acct *domain.Account, prices map[string]decimal.Decimal) []domain.HoldingValue {
	held := acct.SortedHoldings()
	out := make([]domain.HoldingValue, 0, len(held))
	for _, h := range held {
		hv := domain.HoldingValue{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AvgCostBasis: h.AvgCostBasis,
		}
		if price, ok := prices[h.Symbol]; ok {
			p := price
			mv := domain.Notional(h.Quantity, price)
			hv.LastPrice = &p
			hv.MarketValue = &mv
		}
		out = append(out, hv)
	}
	return out
}

// Freeze blocks every mutating call on the account.
func (s *AccountService) Freeze(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.ledger.SetFrozen(ctx, accountID, true)
}

// Unfreeze lifts a freeze.
func (s *AccountService) Unfreeze(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.ledger.SetFrozen(ctx, accountID, false)
}

// Deactivate soft-deletes the account. Its data is retained.
func (s *AccountService) Deactivate(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.ledger.SetActive(ctx, accountID, false)
}

// Activate reverses Deactivate.
func (s *AccountService) Activate(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.ledger.SetActive(ctx, accountID, true)
}
