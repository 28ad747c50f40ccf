package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/robfig/cron/v3"
)

// DateLayout formats batch dates in the batch timezone.
const DateLayout = "2006-01-02"

// Window tracks the daily batch cycle: when the next batch fires, when
// cancellations stop being accepted, and whether orders are locked.
//
// It also owns the gate that keeps client writes and the executor apart.
// Create and Cancel run under the shared side; the executor and the
// cutoff flip take the exclusive side, so a Cancel that returned success
// finished before the lock and one that starts after it sees the flag.
type Window struct {
	schedule     cron.Schedule
	loc          *time.Location
	cutoffOffset time.Duration

	gate sync.RWMutex

	mu            sync.RWMutex
	nextBatchAt   time.Time
	ordersLocked  bool
	lastBatchDate string
}

// NewWindow parses a standard five-field cron expression evaluated in loc
// and computes the first batch after now.
func NewWindow(spec string, loc *time.Location, cutoffOffset time.Duration, now time.Time) (*Window, error) {
	schedule, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", loc.String(), spec))
	if err != nil {
		return nil, fmt.Errorf("parse batch schedule %q: %w", spec, err)
	}
	w := &Window{
		schedule:     schedule,
		loc:          loc,
		cutoffOffset: cutoffOffset,
	}
	w.nextBatchAt = w.schedule.Next(now)
	return w, nil
}

// Restore seeds the last executed batch date read from the journal.
func (w *Window) Restore(lastBatchDate string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastBatchDate = lastBatchDate
}

// State returns the window as clients see it.
func (w *Window) State() domain.BatchWindow {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return domain.BatchWindow{
		NextBatchAt:        w.nextBatchAt,
		CancellationCutoff: w.nextBatchAt.Add(-w.cutoffOffset),
		OrdersLocked:       w.ordersLocked,
		LastBatchDate:      w.lastBatchDate,
	}
}

// OrdersLocked reports whether the cutoff has passed for the current window.
func (w *Window) OrdersLocked() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ordersLocked
}

// BatchDate is the calendar date of t in the batch timezone.
func (w *Window) BatchDate(t time.Time) string {
	return t.In(w.loc).Format(DateLayout)
}

// Shared enters the client side of the gate and returns its release.
func (w *Window) Shared() func() {
	w.gate.RLock()
	return w.gate.RUnlock
}

// Exclusive enters the executor side of the gate and returns its release.
func (w *Window) Exclusive() func() {
	w.gate.Lock()
	return w.gate.Unlock
}

// lockOrders flips ordersLocked once every in-flight client call has
// drained. It reports whether the flag changed.
func (w *Window) lockOrders() bool {
	release := w.Exclusive()
	defer release()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ordersLocked {
		return false
	}
	w.ordersLocked = true
	return true
}

// observe returns the phase of the window at now.
func (w *Window) observe(now time.Time) (pastCutoff, due bool, batchDate string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pastCutoff = !now.Before(w.nextBatchAt.Add(-w.cutoffOffset))
	due = !now.Before(w.nextBatchAt)
	return pastCutoff, due, w.BatchDate(w.nextBatchAt)
}

// complete records batchDate as executed, unlocks orders, and moves the
// window to the next occurrence after now. The caller holds the
// exclusive gate.
func (w *Window) complete(batchDate string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if batchDate > w.lastBatchDate {
		w.lastBatchDate = batchDate
	}
	w.ordersLocked = false
	w.nextBatchAt = w.schedule.Next(now)
}
