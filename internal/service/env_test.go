package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/market"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

type recordedEvent struct {
	accountID string
	event     string
	payload   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(accountID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{accountID: accountID, event: event, payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.event
	}
	return out
}

// envDay is the trading day every service test runs on; the batch fires
// at 14:00 UTC with a 13:55 cutoff.
var envDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func envAt(hour, minute int) time.Time {
	return envDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// testEnv wires every service over in-memory collaborators.
type testEnv struct {
	t           *testing.T
	accounts    *store.AccountStore
	ledger      *ledger.Ledger
	intentions  *store.IntentionStore
	instruments *domain.InstrumentRegistry
	prices      *market.StaticProvider
	journal     *store.MemoryJournal
	window      *engine.Window
	scheduler   *engine.Scheduler
	notifier    *recordingNotifier

	intentionSvc  *IntentionService
	accountSvc    *AccountService
	allocationSvc *AllocationService
	instrumentSvc *InstrumentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()

	env := &testEnv{
		t:        t,
		accounts: store.NewAccountStore(),
		instruments: domain.NewInstrumentRegistry(
			domain.Instrument{Symbol: "AAPL", Ref: "REF-AAPL", Currency: "EUR"},
			domain.Instrument{Symbol: "MSFT", Ref: "REF-MSFT", Currency: "EUR"},
		),
		intentions: store.NewIntentionStore(),
		prices:     market.NewStaticProvider(),
		journal:    store.NewMemoryJournal(),
		notifier:   &recordingNotifier{},
	}
	env.ledger = ledger.New(env.accounts, ledger.WithLockTimeout(500*time.Millisecond))

	w, err := engine.NewWindow("0 14 * * *", time.UTC, 5*time.Minute, envAt(9, 0))
	if err != nil {
		t.Fatal(err)
	}
	env.window = w

	exec := engine.NewExecutor(engine.ExecutorConfig{
		Ledger:       env.ledger,
		Intentions:   env.intentions,
		Instruments:  env.instruments,
		Prices:       env.prices,
		Notifier:     env.notifier,
		Logger:       logger,
		QuoteTimeout: 100 * time.Millisecond,
	})
	env.scheduler = engine.NewScheduler(time.Hour, w, exec, env.journal, nil, logger)

	env.intentionSvc = NewIntentionService(IntentionServiceConfig{
		Ledger:            env.ledger,
		Intentions:        env.intentions,
		Instruments:       env.instruments,
		Prices:            env.prices,
		Window:            w,
		Notifier:          env.notifier,
		Logger:            logger,
		ReservationBuffer: DefaultReservationBuffer,
		QuoteTimeout:      100 * time.Millisecond,
		Now:               func() time.Time { return envAt(9, 30) },
	})
	env.accountSvc = NewAccountService(env.ledger, env.intentions, env.journal)
	env.allocationSvc = NewAllocationService(env.ledger, env.journal, env.notifier, logger, d("100000"), time.Minute)
	env.instrumentSvc = NewInstrumentService(env.instruments, env.prices, DefaultReservationBuffer, 100*time.Millisecond)
	return env
}

func (env *testEnv) fund(accountID, target string) {
	env.t.Helper()
	if _, err := env.allocationSvc.SetTarget(context.Background(), accountID, target); err != nil {
		env.t.Fatalf("fund %s: %v", accountID, err)
	}
}

// give credits qty shares of symbol bought at price, on top of the
// account's current cash.
func (env *testEnv) give(accountID, symbol string, qty int64, price string) {
	env.t.Helper()
	cost := domain.Notional(qty, d(price))
	if _, err := env.ledger.AdminAllocate(context.Background(), accountID, cost); err != nil {
		env.t.Fatal(err)
	}
	err := env.ledger.Update(context.Background(), accountID, func(tx *ledger.Tx) error {
		if err := tx.Reserve(cost); err != nil {
			return err
		}
		_, err := tx.CommitBuy(symbol, qty, d(price), cost)
		return err
	})
	if err != nil {
		env.t.Fatalf("give %s %s: %v", accountID, symbol, err)
	}
}

func (env *testEnv) price(symbol, price string) {
	env.prices.SetPrice("REF-"+symbol, d(price), "EUR")
}

func (env *testEnv) account(id string) *domain.Account {
	env.t.Helper()
	a, err := env.ledger.Snapshot(context.Background(), id)
	if err != nil {
		env.t.Fatal(err)
	}
	return a
}

func (env *testEnv) buy(accountID, symbol string, qty int64, estimate string) *domain.Intention {
	env.t.Helper()
	req := CreateIntentionRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      domain.SideBuy,
		Quantity:  qty,
		OrderType: domain.OrderTypeMarket,
	}
	if estimate != "" {
		req.EstimatedPrice = strPtr(estimate)
	}
	in, err := env.intentionSvc.Create(context.Background(), req)
	if err != nil {
		env.t.Fatalf("buy %s: %v", symbol, err)
	}
	return in
}

// assertReservedConsistent checks that the ledger's reserved balance
// equals the reservations held by the account's intentions.
func (env *testEnv) assertReservedConsistent(accountID string) {
	env.t.Helper()
	acct := env.account(accountID)
	want := env.intentions.ReservedByAccount(accountID)
	if !acct.ReservedBalance.Equal(want) {
		env.t.Fatalf("reserved balance %s, intentions hold %s", acct.ReservedBalance, want)
	}
	if acct.AvailableBalance().IsNegative() {
		env.t.Fatalf("available balance negative: %s", acct.AvailableBalance())
	}
}
