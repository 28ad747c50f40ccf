package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/efreitasn/batchbroker/internal/store"
)

// Scheduler drives the batch window from a ticker: it locks orders at the
// cancellation cutoff and runs the executor once the batch is due. The
// journal's last batch date makes each calendar day execute at most once,
// across restarts too.
type Scheduler struct {
	interval time.Duration
	window   *Window
	executor *Executor
	journal  store.Journal
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu sync.Mutex // serializes ticks and manual runs
}

// NewScheduler creates a new Scheduler with the given dependencies.
func NewScheduler(
	interval time.Duration,
	window *Window,
	executor *Executor,
	journal store.Journal,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		interval: interval,
		window:   window,
		executor: executor,
		journal:  journal,
		metrics:  m,
		logger:   logger,
	}
}

// Restore loads the last executed batch date from the journal.
func (s *Scheduler) Restore(ctx context.Context) error {
	last, err := s.journal.LastBatchDate(ctx)
	if err != nil {
		return fmt.Errorf("restore batch window: %w", err)
	}
	s.window.Restore(last)
	return nil
}

// Start launches a background goroutine that checks the window at the
// configured interval. It stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx, time.Now())
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				s.tick(ctx, t)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if _, err := s.Tick(ctx, now); err != nil {
		s.logger.Error("batch tick failed", slog.String("error", err.Error()))
	}
}

// Tick advances the window to now. It returns the batch report when this
// call executed a batch, and nil otherwise.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*domain.BatchReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pastCutoff, due, batchDate := s.window.observe(now)
	if pastCutoff && s.window.lockOrders() {
		s.metrics.SetOrdersLocked(true)
		s.logger.Info("orders locked for batch", slog.String("batch_date", batchDate))
	}
	if !due {
		return nil, nil
	}
	return s.run(ctx, batchDate, now)
}

// RunNow executes the batch for now's date immediately, outside the
// schedule. A date the journal already holds is not executed again.
func (s *Scheduler) RunNow(ctx context.Context, now time.Time) (*domain.BatchReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, s.window.BatchDate(now), now)
}

func (s *Scheduler) run(ctx context.Context, batchDate string, now time.Time) (*domain.BatchReport, error) {
	release := s.window.Exclusive()
	defer release()

	last, err := s.journal.LastBatchDate(ctx)
	if err != nil {
		s.metrics.BatchFailed()
		return nil, fmt.Errorf("read last batch date: %w", err)
	}
	if last >= batchDate {
		s.logger.Info("batch already executed, skipping",
			slog.String("batch_date", batchDate),
			slog.String("last_batch_date", last),
		)
		s.metrics.BatchSkipped()
		s.window.complete(last, now)
		s.metrics.SetOrdersLocked(false)
		return nil, nil
	}

	report := s.executor.Execute(ctx, batchDate)
	s.metrics.BatchExecuted(report)

	recordErr := s.journal.RecordBatch(context.WithoutCancel(ctx), report)
	s.window.complete(batchDate, now)
	s.metrics.SetOrdersLocked(false)

	state := s.window.State()
	s.logger.Info("batch window advanced",
		slog.String("batch_date", batchDate),
		slog.Time("next_batch_at", state.NextBatchAt),
		slog.Time("cancellation_cutoff", state.CancellationCutoff),
	)
	if recordErr != nil {
		return report, fmt.Errorf("record batch %s: %w", report.BatchID, recordErr)
	}
	return report, nil
}
