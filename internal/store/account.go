package store

import (
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
)

// AccountStore is a thread-safe in-memory registry of accounts.
//
// It hands out the live *domain.Account. Only the ledger mutates accounts,
// and it does so while holding the account's lock; everyone else reads
// through ledger snapshots.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Get returns the account or domain.ErrAccountNotFound.
func (s *AccountStore) Get(id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

// GetOrCreate returns the account, creating an active empty one if needed.
// The second return value reports whether a new account was created.
func (s *AccountStore) GetOrCreate(id string, now time.Time) (*domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[id]; ok {
		return a, false
	}
	a := domain.NewAccount(id, now)
	s.accounts[id] = a
	return a, true
}

// Put inserts or replaces an account. The ledger calls it after every
// committed mutation; in memory that is a no-op for known accounts.
func (s *AccountStore) Put(a *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.AccountID] = a
}

// IDs returns all account IDs in ascending order.
func (s *AccountStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
