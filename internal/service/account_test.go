package service

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/batchbroker/internal/domain"
)

func TestPortfolio_AfterBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund("acct-1", "1000")
	env.give("acct-1", "MSFT", 4, "100")
	env.price("AAPL", "48")
	env.price("MSFT", "110")

	env.buy("acct-1", "AAPL", 10, "50")
	env.buy("acct-1", "AAPL", 1, "50")
	if _, err := env.scheduler.Tick(ctx, envAt(14, 0)); err != nil {
		t.Fatal(err)
	}
	pendingAfter := env.buy("acct-1", "AAPL", 1, "50")

	p, err := env.accountSvc.Portfolio(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}

	// 1000 − 480 − 48 after the batch, then 51.00 reserved for the new buy.
	if !p.CashBalance.Equal(d("472")) {
		t.Errorf("got cash %s, want 472", p.CashBalance)
	}
	if !p.ReservedBalance.Equal(pendingAfter.ReservedAmount) {
		t.Errorf("got reserved %s, want %s", p.ReservedBalance, pendingAfter.ReservedAmount)
	}
	if !p.AvailableBalance.Equal(p.CashBalance.Sub(p.ReservedBalance)) {
		t.Error("available must be cash minus reserved")
	}
	if p.PendingCount != 1 {
		t.Errorf("got %d pending, want 1", p.PendingCount)
	}
	if p.LastBatchDate != "2026-03-02" {
		t.Errorf("got last batch %q", p.LastBatchDate)
	}
	if len(p.RecentFills) != 2 {
		t.Errorf("got %d fills, want 2", len(p.RecentFills))
	}

	if len(p.Holdings) != 2 {
		t.Fatalf("got %d holdings, want 2", len(p.Holdings))
	}
	aapl := p.Holdings[0]
	if aapl.Symbol != "AAPL" || aapl.Quantity != 11 {
		t.Errorf("got %+v", aapl)
	}
	if aapl.LastPrice == nil || !aapl.LastPrice.Equal(d("48")) || !aapl.MarketValue.Equal(d("528")) {
		t.Errorf("AAPL should be valued at the batch price, got %+v", aapl)
	}
	// MSFT was not traded in the batch, so it has no snapshot price.
	if msft := p.Holdings[1]; msft.LastPrice != nil || msft.MarketValue != nil {
		t.Errorf("MSFT should have no last price, got %+v", msft)
	}
}

func TestPortfolio_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	if _, err := env.accountSvc.Portfolio(ctx, "not valid"); !errors.As(err, &vErr) {
		t.Errorf("got %v, want *ValidationError", err)
	}
	if _, err := env.accountSvc.Portfolio(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestAccountAdministration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund("acct-1", "1000")
	in := env.buy("acct-1", "AAPL", 1, "10")

	acct, err := env.accountSvc.Freeze(ctx, "acct-1")
	if err != nil || !acct.Frozen {
		t.Fatalf("freeze: %v, %+v", err, acct)
	}

	// A frozen account can still cancel; that only unwinds a reservation.
	if _, err := env.intentionSvc.Cancel(ctx, in.ID); err != nil {
		t.Fatalf("cancel on frozen account: %v", err)
	}
	if _, err := env.allocationSvc.SetTarget(ctx, "acct-1", "2000"); !errors.Is(err, domain.ErrAccountFrozen) {
		t.Errorf("allocation on frozen account: got %v", err)
	}

	acct, err = env.accountSvc.Unfreeze(ctx, "acct-1")
	if err != nil || acct.Frozen {
		t.Fatalf("unfreeze: %v, %+v", err, acct)
	}
	acct, err = env.accountSvc.Deactivate(ctx, "acct-1")
	if err != nil || acct.Active {
		t.Fatalf("deactivate: %v, %+v", err, acct)
	}
	if !acct.CashBalance.Equal(d("1000")) {
		t.Error("deactivation must keep the account's data")
	}
	acct, err = env.accountSvc.Activate(ctx, "acct-1")
	if err != nil || !acct.Active {
		t.Fatalf("activate: %v, %+v", err, acct)
	}

	if _, err := env.accountSvc.Freeze(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}
