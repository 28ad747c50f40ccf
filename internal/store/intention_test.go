package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestIntention(id, accountID string, side domain.Side, submitted time.Time) *domain.Intention {
	i := &domain.Intention{
		ID:          id,
		AccountID:   accountID,
		Symbol:      "AAPL",
		Side:        side,
		Quantity:    10,
		OrderType:   domain.OrderTypeMarket,
		Status:      domain.StatusPending,
		SubmittedAt: submitted,
	}
	if side == domain.SideBuy {
		i.ReservedAmount = decimal.RequireFromString("510.00")
	}
	return i
}

func TestIntentionStore_CreateAndGet(t *testing.T) {
	s := NewIntentionStore()
	in := newTestIntention("i-1", "acct-1", domain.SideBuy, t0)

	if err := s.Create(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Create(in); !errors.Is(err, ErrDuplicateIntention) {
		t.Fatalf("expected ErrDuplicateIntention, got %v", err)
	}

	got, err := s.Get("i-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Quantity = 999
	again, _ := s.Get("i-1")
	if again.Quantity != 10 {
		t.Fatal("mutating a returned intention leaked into the store")
	}

	if _, err := s.Get("missing"); !errors.Is(err, domain.ErrIntentionNotFound) {
		t.Fatalf("expected ErrIntentionNotFound, got %v", err)
	}
}

func TestIntentionStore_UpdateRollsBackOnError(t *testing.T) {
	s := NewIntentionStore()
	_ = s.Create(newTestIntention("i-1", "acct-1", domain.SideBuy, t0))

	boom := errors.New("boom")
	_, err := s.Update("i-1", func(i *domain.Intention) error {
		i.Status = domain.StatusCancelled
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, _ := s.Get("i-1")
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after failed update", got.Status)
	}
	if len(s.Pending()) != 1 {
		t.Fatalf("pending count = %d, want 1", len(s.Pending()))
	}
}

func TestIntentionStore_UpdateMaintainsPendingIndex(t *testing.T) {
	s := NewIntentionStore()
	_ = s.Create(newTestIntention("i-1", "acct-1", domain.SideBuy, t0))
	_ = s.Create(newTestIntention("i-2", "acct-1", domain.SideSell, t0.Add(time.Second)))

	updated, err := s.Update("i-1", func(i *domain.Intention) error {
		return i.Transition(domain.StatusCancelled)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.StatusCancelled {
		t.Fatalf("returned status = %s, want cancelled", updated.Status)
	}

	pending := s.Pending()
	if len(pending) != 1 || pending[0].ID != "i-2" {
		t.Fatalf("pending = %v, want only i-2", pending)
	}
	if got := s.ByStatus(domain.StatusCancelled); len(got) != 1 || got[0].ID != "i-1" {
		t.Fatalf("ByStatus(cancelled) = %v, want i-1", got)
	}
}

func TestIntentionStore_ListByAccount(t *testing.T) {
	s := NewIntentionStore()
	for n := 0; n < 5; n++ {
		_ = s.Create(newTestIntention(fmt.Sprintf("i-%d", n), "acct-1", domain.SideBuy, t0.Add(time.Duration(n)*time.Second)))
	}
	_ = s.Create(newTestIntention("other", "acct-2", domain.SideBuy, t0))
	_, _ = s.Update("i-3", func(i *domain.Intention) error { return i.Transition(domain.StatusCancelled) })

	tests := []struct {
		name      string
		status    *domain.IntentionStatus
		page      int
		limit     int
		wantIDs   []string
		wantTotal int
	}{
		{"first page newest first", nil, 1, 2, []string{"i-4", "i-3"}, 5},
		{"second page", nil, 2, 2, []string{"i-2", "i-1"}, 5},
		{"past the end", nil, 4, 2, []string{}, 5},
		{"status filter", ptrStatus(domain.StatusCancelled), 1, 10, []string{"i-3"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := s.ListByAccount("acct-1", tt.status, tt.page, tt.limit)
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d intentions, want %d", len(got), len(tt.wantIDs))
			}
			for n, id := range tt.wantIDs {
				if got[n].ID != id {
					t.Errorf("got[%d] = %s, want %s", n, got[n].ID, id)
				}
			}
		})
	}
}

func TestIntentionStore_ReservedByAccount(t *testing.T) {
	s := NewIntentionStore()
	_ = s.Create(newTestIntention("b-1", "acct-1", domain.SideBuy, t0))
	_ = s.Create(newTestIntention("b-2", "acct-1", domain.SideBuy, t0))
	_ = s.Create(newTestIntention("s-1", "acct-1", domain.SideSell, t0))
	_, _ = s.Update("b-2", func(i *domain.Intention) error {
		i.Released = true
		return i.Transition(domain.StatusCancelled)
	})

	if got := s.ReservedByAccount("acct-1"); !got.Equal(decimal.RequireFromString("510")) {
		t.Fatalf("ReservedByAccount = %s, want 510", got)
	}
}

func ptrStatus(s domain.IntentionStatus) *domain.IntentionStatus { return &s }

func TestProperty_PendingOrderedBySubmissionThenID(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewIntentionStore()
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for k := 0; k < n; k++ {
			// A narrow range of seconds forces timestamp collisions.
			sec := rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("sec-%d", k))
			id := fmt.Sprintf("id-%03d", rapid.IntRange(0, 999).Draw(t, fmt.Sprintf("id-%d", k)))
			_ = s.Create(newTestIntention(id, "acct", domain.SideSell, t0.Add(time.Duration(sec)*time.Second)))
		}

		pending := s.Pending()
		for k := 1; k < len(pending); k++ {
			prev, cur := pending[k-1], pending[k]
			if cur.SubmittedAt.Before(prev.SubmittedAt) {
				t.Fatalf("submitted_at out of order: %v after %v", cur.SubmittedAt, prev.SubmittedAt)
			}
			if cur.SubmittedAt.Equal(prev.SubmittedAt) && cur.ID <= prev.ID {
				t.Fatalf("tie not broken by ID: %s after %s", cur.ID, prev.ID)
			}
		}
	})
}
