package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/ledger"
)

func TestSetTarget_OpensAccountAndNotifiesIncrease(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.allocationSvc.SetTarget(context.Background(), "acct-1", "1500.50")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied.Created {
		t.Error("first allocation should open the account")
	}
	if !out.Applied.Delta.Equal(d("1500.50")) || !out.Applied.AssignedCash.Equal(d("1500.50")) {
		t.Errorf("got %+v", out.Applied)
	}
	if out.Overallocated {
		t.Error("allocation within broker cash should not be flagged")
	}

	acct := env.account("acct-1")
	if !acct.CashBalance.Equal(d("1500.50")) || !acct.Active {
		t.Errorf("got %+v", acct)
	}
	names := env.notifier.names()
	if len(names) != 1 || names[0] != domain.EventAllocationIncreased {
		t.Errorf("got events %v", names)
	}
	if _, ok := env.notifier.events[0].payload.(ledger.AllocationResult); !ok {
		t.Errorf("payload is %T, want ledger.AllocationResult", env.notifier.events[0].payload)
	}
}

func TestSetTarget_DecreaseDoesNotNotify(t *testing.T) {
	env := newTestEnv(t)
	env.fund("acct-1", "1000")

	out, err := env.allocationSvc.SetTarget(context.Background(), "acct-1", "400")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied.Delta.Equal(d("-600")) || !out.Applied.CashDelta.Equal(d("-600")) {
		t.Errorf("got %+v", out.Applied)
	}
	if out.Applied.Created {
		t.Error("existing account must not be reported as created")
	}
	if n := len(env.notifier.names()); n != 1 {
		t.Errorf("got %d events, want only the initial increase", n)
	}
	if !env.account("acct-1").CashBalance.Equal(d("400")) {
		t.Error("cash should follow the assignment")
	}
}

func TestSetTarget_BelowReservedIsFlaggedNotRejected(t *testing.T) {
	env := newTestEnv(t)
	env.fund("acct-1", "1000")
	env.buy("acct-1", "AAPL", 10, "50") // reserves 510

	out, err := env.allocationSvc.SetTarget(context.Background(), "acct-1", "300")
	if err != nil {
		t.Fatalf("allocation below reserved must still apply: %v", err)
	}
	if !out.Applied.Delta.Equal(d("-700")) || !out.Applied.AssignedCash.Equal(d("300")) {
		t.Errorf("got %+v", out.Applied)
	}
	if !out.Applied.CashDelta.Equal(d("-490")) || !out.Applied.Shortfall.Equal(d("210")) {
		t.Errorf("reduction should stop at available cash, got %+v", out.Applied)
	}
	if !out.Available.Equal(d("-210")) || !out.Overallocated {
		t.Errorf("got available %s overallocated %v", out.Available, out.Overallocated)
	}
	env.assertReservedConsistent("acct-1")

	ov, err := env.allocationSvc.Overview(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ov.Accounts) != 1 || !ov.Accounts[0].Overallocated || !ov.Accounts[0].Available.Equal(d("-210")) {
		t.Errorf("got %+v", ov.Accounts)
	}
}

func TestSetTarget_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund("acct-1", "100")

	var vErr *domain.ValidationError
	for _, target := range []string{"abc", "-1", "1.234"} {
		if _, err := env.allocationSvc.SetTarget(ctx, "acct-1", target); !errors.As(err, &vErr) {
			t.Errorf("target %q: got %v, want *ValidationError", target, err)
		}
	}
	if _, err := env.allocationSvc.SetTarget(ctx, "bad id", "1"); !errors.As(err, &vErr) {
		t.Errorf("got %v, want *ValidationError", err)
	}

	if _, err := env.accountSvc.Deactivate(ctx, "acct-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.allocationSvc.SetTarget(ctx, "acct-1", "200"); !errors.Is(err, domain.ErrAccountInactive) {
		t.Errorf("got %v, want ErrAccountInactive", err)
	}
	if !env.account("acct-1").AssignedCash.Equal(d("100")) {
		t.Error("rejected allocation must not change the account")
	}
}

func TestOverview_TotalsAndPoolFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.allocationSvc.SetBrokerCash("3000"); err != nil {
		t.Fatal(err)
	}
	env.fund("acct-1", "1000")
	env.fund("acct-2", "1500")
	env.buy("acct-2", "AAPL", 4, "100") // reserves 408

	ov, err := env.allocationSvc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ov.BrokerCash.Equal(d("3000")) || !ov.TotalAssigned.Equal(d("2500")) || !ov.TotalReserved.Equal(d("408")) {
		t.Errorf("got totals %s/%s/%s", ov.BrokerCash, ov.TotalAssigned, ov.TotalReserved)
	}
	if !ov.TotalAvailable.Equal(d("2092")) || !ov.Unallocated.Equal(d("92")) || ov.Overallocated {
		t.Errorf("got available %s unallocated %s overallocated %v", ov.TotalAvailable, ov.Unallocated, ov.Overallocated)
	}
	if ov.Accounts[0].AccountID != "acct-1" || ov.Accounts[1].AccountID != "acct-2" {
		t.Errorf("accounts should be ordered by id")
	}

	if _, err := env.allocationSvc.SetBrokerCash("2000"); err != nil {
		t.Fatal(err)
	}
	ov, err = env.allocationSvc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ov.Overallocated || !ov.Unallocated.Equal(d("-908")) {
		t.Errorf("pool should be overallocated, got unallocated %s", ov.Unallocated)
	}

	out, err := env.allocationSvc.SetTarget(ctx, "acct-1", "1001")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Overallocated {
		t.Error("allocating into an overcommitted pool should be flagged")
	}
}

func TestOverview_ServedFromCacheWithinTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund("acct-1", "1000")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	env.allocationSvc.now = func() time.Time { return now }

	first, err := env.allocationSvc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A ledger change that bypasses the service is not seen until expiry.
	if _, err := env.ledger.AdminAllocate(ctx, "acct-2", d("50")); err != nil {
		t.Fatal(err)
	}
	second, err := env.allocationSvc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Error("overview within the TTL should be served from cache")
	}

	now = now.Add(2 * time.Minute)
	third, err := env.allocationSvc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if third == first || len(third.Accounts) != 2 {
		t.Errorf("expired cache should rebuild, got %d accounts", len(third.Accounts))
	}
}

func TestOverview_ConcurrentCallersShareResult(t *testing.T) {
	env := newTestEnv(t)
	env.fund("acct-1", "1000")

	var wg sync.WaitGroup
	results := make([]*domain.AllocationOverview, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ov, err := env.allocationSvc.Overview(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = ov
		}(i)
	}
	wg.Wait()

	for i, ov := range results {
		if ov == nil || !ov.TotalAssigned.Equal(d("1000")) {
			t.Fatalf("result %d: %+v", i, ov)
		}
	}
}

func TestSetBrokerCash_Validation(t *testing.T) {
	env := newTestEnv(t)
	var vErr *domain.ValidationError
	for _, v := range []string{"", "-5", "1.001"} {
		if _, err := env.allocationSvc.SetBrokerCash(v); !errors.As(err, &vErr) {
			t.Errorf("%q: got %v, want *ValidationError", v, err)
		}
	}
	if !env.allocationSvc.BrokerCash().Equal(d("100000")) {
		t.Error("invalid input must not change broker cash")
	}
}
