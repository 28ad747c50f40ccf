package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticProvider serves quotes from memory. It backs configured price
// tables and tests.
type StaticProvider struct {
	mu          sync.RWMutex
	quotes      map[string]Quote
	unavailable map[string]bool
	now         func() time.Time
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		quotes:      make(map[string]Quote),
		unavailable: make(map[string]bool),
		now:         time.Now,
	}
}

// SetPrice sets an unrestricted quote for ref.
func (p *StaticProvider) SetPrice(ref string, price decimal.Decimal, currency string) {
	p.SetQuote(Quote{Ref: ref, Price: price, Currency: currency})
}

// SetQuote stores q under q.Ref and clears any outage for it.
func (p *StaticProvider) SetQuote(q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[q.Ref] = q
	delete(p.unavailable, q.Ref)
}

// SetUnavailable simulates an outage for ref.
func (p *StaticProvider) SetUnavailable(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[ref] = true
}

// GetPrice returns the configured quote for ref.
func (p *StaticProvider) GetPrice(ctx context.Context, ref string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, ref, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	q, ok := p.quotes[ref]
	if !ok || p.unavailable[ref] {
		return Quote{}, fmt.Errorf("%w: no quote for %s", ErrUnavailable, ref)
	}
	if q.AsOf.IsZero() {
		q.AsOf = p.now()
	}
	return q, nil
}
