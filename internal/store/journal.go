package store

import (
	"context"
	"sync"

	"github.com/efreitasn/batchbroker/internal/domain"
)

// Journal persists the outcome of batch runs. The last recorded batch date
// is what keeps the engine from executing the same day twice.
type Journal interface {
	// LastBatchDate returns the date of the most recent batch, or "".
	LastBatchDate(ctx context.Context) (string, error)
	// RecordBatch stores the report, its fills, and advances the last
	// batch date in one step.
	RecordBatch(ctx context.Context, report *domain.BatchReport) error
	// LastReport returns the most recent report, or nil.
	LastReport(ctx context.Context) (*domain.BatchReport, error)
	// FillsByAccount returns an account's fills in execution order.
	FillsByAccount(ctx context.Context, accountID string) ([]domain.Fill, error)
	Close() error
}

// MemoryJournal is a Journal kept in process memory. Fills are
// append-only and chronological.
type MemoryJournal struct {
	mu       sync.RWMutex
	lastDate string
	reports  []*domain.BatchReport
	fills    map[string][]domain.Fill // account_id → fills
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		fills: make(map[string][]domain.Fill),
	}
}

// LastBatchDate returns the date of the last recorded batch.
func (j *MemoryJournal) LastBatchDate(_ context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastDate, nil
}

// RecordBatch appends a copy of the report and indexes its fills by account.
func (j *MemoryJournal) RecordBatch(_ context.Context, report *domain.BatchReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := *report
	cp.Fills = append([]domain.Fill(nil), report.Fills...)
	j.reports = append(j.reports, &cp)
	for _, f := range report.Fills {
		j.fills[f.AccountID] = append(j.fills[f.AccountID], f)
	}
	j.lastDate = report.BatchDate
	return nil
}

// LastReport returns a copy of the latest report, or nil if none was recorded.
func (j *MemoryJournal) LastReport(_ context.Context) (*domain.BatchReport, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if len(j.reports) == 0 {
		return nil, nil
	}
	cp := *j.reports[len(j.reports)-1]
	return &cp, nil
}

// FillsByAccount returns a copy of the account's fills.
func (j *MemoryJournal) FillsByAccount(_ context.Context, accountID string) ([]domain.Fill, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	fills := j.fills[accountID]
	out := make([]domain.Fill, len(fills))
	copy(out, fills)
	return out, nil
}

// Close is a no-op.
func (j *MemoryJournal) Close() error { return nil }
