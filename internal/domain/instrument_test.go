package domain

import (
	"sync"
	"testing"
)

func TestInstrumentRegistry_RegisterAndLookup(t *testing.T) {
	r := NewInstrumentRegistry(Instrument{Symbol: "AAPL", Ref: "265598", Currency: "USD"})

	if _, ok := r.Lookup("GOOG"); ok {
		t.Error("Lookup(GOOG) = true before registration")
	}

	r.Register(Instrument{Symbol: "GOOG", Ref: "208813720", Currency: "USD"})

	in, ok := r.Lookup("GOOG")
	if !ok {
		t.Fatal("Lookup(GOOG) = false after registration")
	}
	if in.Ref != "208813720" {
		t.Errorf("Ref = %q, want 208813720", in.Ref)
	}

	list := r.List()
	if len(list) != 2 || list[0].Symbol != "AAPL" || list[1].Symbol != "GOOG" {
		t.Errorf("List() = %+v, want AAPL, GOOG", list)
	}
}

func TestInstrumentRegistry_ConcurrentAccess(t *testing.T) {
	r := NewInstrumentRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(Instrument{Symbol: "SYM", Ref: "1"})
		}()
		go func() {
			defer wg.Done()
			r.Lookup("SYM")
		}()
	}
	wg.Wait()

	if _, ok := r.Lookup("SYM"); !ok {
		t.Error("Lookup(SYM) = false after concurrent registration")
	}
}
