package domain

import (
	"sort"
	"sync"
)

// Instrument maps a user-facing symbol to the broker contract it trades.
type Instrument struct {
	Symbol   string
	Ref      string // broker contract identifier
	Currency string
}

// InstrumentRegistry tracks tradable instruments in a thread-safe manner.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[string]Instrument
}

// NewInstrumentRegistry creates a registry seeded with the given instruments.
func NewInstrumentRegistry(seed ...Instrument) *InstrumentRegistry {
	r := &InstrumentRegistry{
		instruments: make(map[string]Instrument, len(seed)),
	}
	for _, in := range seed {
		r.instruments[in.Symbol] = in
	}
	return r
}

// Register adds or replaces an instrument. Safe for concurrent use.
func (r *InstrumentRegistry) Register(in Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[in.Symbol] = in
}

// Lookup returns the instrument for symbol. Safe for concurrent use.
func (r *InstrumentRegistry) Lookup(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instruments[symbol]
	return in, ok
}

// List returns all instruments ordered by symbol.
func (r *InstrumentRegistry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instrument, 0, len(r.instruments))
	for _, in := range r.instruments {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
