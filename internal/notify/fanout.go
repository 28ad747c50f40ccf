package notify

import (
	"time"

	"github.com/efreitasn/batchbroker/internal/metrics"
)

// Sink receives events. Deliver must return promptly; slow work belongs
// in its own goroutine.
type Sink interface {
	Deliver(ev Event)
	Name() string
}

// Fanout turns Notify calls into Events and hands them to every sink.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewFanout creates a Fanout over sinks.
func NewFanout(m *metrics.Metrics, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, metrics: m, now: time.Now}
}

// Notify satisfies the engine and service notifier contract.
func (f *Fanout) Notify(accountID, event string, payload any) {
	ev := NewEvent(accountID, event, payload, f.now())
	for _, s := range f.sinks {
		s.Deliver(ev)
		f.metrics.NotificationSent(s.Name(), event)
	}
}
