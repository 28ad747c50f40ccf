package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// pendingKey orders the pending queue: submitted_at ascending, then
// intention ID ascending.
type pendingKey struct {
	SubmittedAt time.Time
	ID          string
}

func pendingLess(a, b pendingKey) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}

// ErrDuplicateIntention is returned by Create when the ID is taken.
var ErrDuplicateIntention = errors.New("duplicate_intention")

// IntentionStore is a thread-safe in-memory store of intentions with a
// primary index by ID, a per-account index, and a B-tree of pending
// intentions in execution order.
//
// Readers always receive clones. Writers go through Update, which applies
// the mutation to a clone and only commits it when the callback succeeds.
type IntentionStore struct {
	mu         sync.RWMutex
	intentions map[string]*domain.Intention
	byAccount  map[string][]string // account_id → intention IDs (append-only)
	pending    *btree.BTreeG[pendingKey]
}

// NewIntentionStore creates an empty IntentionStore.
func NewIntentionStore() *IntentionStore {
	const degree = 32
	return &IntentionStore{
		intentions: make(map[string]*domain.Intention),
		byAccount:  make(map[string][]string),
		pending:    btree.NewG[pendingKey](degree, pendingLess),
	}
}

// Create stores a copy of i.
func (s *IntentionStore) Create(i *domain.Intention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intentions[i.ID]; ok {
		return ErrDuplicateIntention
	}
	c := i.Clone()
	s.intentions[c.ID] = c
	s.byAccount[c.AccountID] = append(s.byAccount[c.AccountID], c.ID)
	if c.Status == domain.StatusPending {
		s.pending.ReplaceOrInsert(pendingKey{SubmittedAt: c.SubmittedAt, ID: c.ID})
	}
	return nil
}

// Get returns a copy of the intention or domain.ErrIntentionNotFound.
func (s *IntentionStore) Get(id string) (*domain.Intention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.intentions[id]
	if !ok {
		return nil, domain.ErrIntentionNotFound
	}
	return i.Clone(), nil
}

// Update applies fn to a copy of the intention and commits the copy if fn
// returns nil. The committed state is returned as a fresh copy. fn runs
// under the store's write lock and must not call back into the store.
func (s *IntentionStore) Update(id string, fn func(*domain.Intention) error) (*domain.Intention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.intentions[id]
	if !ok {
		return nil, domain.ErrIntentionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	wasPending := cur.Status == domain.StatusPending
	isPending := next.Status == domain.StatusPending
	if wasPending {
		s.pending.Delete(pendingKey{SubmittedAt: cur.SubmittedAt, ID: cur.ID})
	}
	if isPending {
		s.pending.ReplaceOrInsert(pendingKey{SubmittedAt: next.SubmittedAt, ID: next.ID})
	}
	s.intentions[id] = next
	return next.Clone(), nil
}

// Pending returns copies of all pending intentions in execution order.
func (s *IntentionStore) Pending() []*domain.Intention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Intention, 0, s.pending.Len())
	s.pending.Ascend(func(k pendingKey) bool {
		out = append(out, s.intentions[k.ID].Clone())
		return true
	})
	return out
}

// ByStatus returns copies of all intentions in the given status, oldest
// first.
func (s *IntentionStore) ByStatus(status domain.IntentionStatus) []*domain.Intention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Intention, 0)
	for _, i := range s.intentions {
		if i.Status == status {
			out = append(out, i.Clone())
		}
	}
	sortBySubmission(out)
	return out
}

// ListByAccount returns an account's intentions newest first. If status is
// non-nil only matching intentions are included. Pagination is 1-based; the
// second return value is the total match count before pagination.
func (s *IntentionStore) ListByAccount(accountID string, status *domain.IntentionStatus, page, limit int) ([]*domain.Intention, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAccount[accountID]
	matched := make([]*domain.Intention, 0)
	for n := len(ids) - 1; n >= 0; n-- {
		i := s.intentions[ids[n]]
		if status != nil && i.Status != *status {
			continue
		}
		matched = append(matched, i)
	}

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Intention{}, total
	}
	end := min(start+limit, total)

	out := make([]*domain.Intention, 0, end-start)
	for _, i := range matched[start:end] {
		out = append(out, i.Clone())
	}
	return out, total
}

// ReservedByAccount sums the reservations still held by an account's
// intentions. The ledger's reserved balance must always equal this.
func (s *IntentionStore) ReservedByAccount(accountID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, id := range s.byAccount[accountID] {
		if i := s.intentions[id]; i.HoldsReservation() {
			total = total.Add(i.ReservedAmount)
		}
	}
	return total
}

func sortBySubmission(list []*domain.Intention) {
	sort.Slice(list, func(a, b int) bool {
		return pendingLess(
			pendingKey{SubmittedAt: list[a].SubmittedAt, ID: list[a].ID},
			pendingKey{SubmittedAt: list[b].SubmittedAt, ID: list[b].ID},
		)
	})
}
