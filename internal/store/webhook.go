package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/batchbroker/internal/domain"
)

type subscriptionKey struct {
	accountID string
	event     string
}

// WebhookStore is a thread-safe in-memory store of webhook subscriptions.
// At most one subscription exists per (account, event); callers always
// receive copies.
type WebhookStore struct {
	mu   sync.RWMutex
	byID map[string]subscriptionKey
	subs map[subscriptionKey]domain.Webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		byID: make(map[string]subscriptionKey),
		subs: make(map[subscriptionKey]domain.Webhook),
	}
}

// Upsert creates the subscription for (w.AccountID, w.Event), or points an
// existing one at w.URL keeping its ID. It returns the stored webhook and
// whether it was newly created.
func (s *WebhookStore) Upsert(w domain.Webhook) (domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{accountID: w.AccountID, event: w.Event}
	if existing, ok := s.subs[key]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
			s.subs[key] = existing
		}
		return existing, false
	}

	s.subs[key] = w
	s.byID[w.WebhookID] = key
	return w, true
}

// Get retrieves a webhook by ID, or domain.ErrWebhookNotFound.
func (s *WebhookStore) Get(id string) (domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[id]
	if !ok {
		return domain.Webhook{}, domain.ErrWebhookNotFound
	}
	return s.subs[key], nil
}

// ListByAccount returns an account's subscriptions ordered by event.
func (s *WebhookStore) ListByAccount(accountID string) []domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Webhook, 0)
	for key, w := range s.subs {
		if key.accountID == accountID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Lookup returns the subscription for (accountID, event), if any.
func (s *WebhookStore) Lookup(accountID, event string) (domain.Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.subs[subscriptionKey{accountID: accountID, event: event}]
	return w, ok
}

// Delete removes a webhook by ID, or returns domain.ErrWebhookNotFound.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, id)
	delete(s.subs, key)
	return nil
}
