package store

import (
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountRepository is where the ledger keeps accounts. Get and
// GetOrCreate hand out the instance the ledger mutates under its account
// lock; Put is called once a mutation commits so a durable implementation
// can write it through.
type AccountRepository interface {
	Get(id string) (*domain.Account, error)
	GetOrCreate(id string, now time.Time) (*domain.Account, bool)
	Put(a *domain.Account)
	IDs() []string
}

// IntentionRepository stores intentions and keeps the pending queue in
// execution order.
type IntentionRepository interface {
	Create(i *domain.Intention) error
	Get(id string) (*domain.Intention, error)
	Update(id string, fn func(*domain.Intention) error) (*domain.Intention, error)
	Pending() []*domain.Intention
	ByStatus(status domain.IntentionStatus) []*domain.Intention
	ListByAccount(accountID string, status *domain.IntentionStatus, page, limit int) ([]*domain.Intention, int)
	ReservedByAccount(accountID string) decimal.Decimal
}

var (
	_ AccountRepository   = (*AccountStore)(nil)
	_ IntentionRepository = (*IntentionStore)(nil)
)
