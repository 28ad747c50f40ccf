package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/market"
	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers account events without the engine depending on the
// service layer. Implementations must not block.
type Notifier interface {
	Notify(accountID, event string, payload any)
}

// DefaultQuoteTimeout bounds each instrument's quote fetch.
const DefaultQuoteTimeout = 5 * time.Second

// maxSettleAttempts bounds retries when an account lock is contended.
const maxSettleAttempts = 3

// Executor converts every pending intention into a terminal status using
// one price per instrument.
type Executor struct {
	ledger       *ledger.Ledger
	intentions   store.IntentionRepository
	instruments  *domain.InstrumentRegistry
	prices       market.Provider
	notifier     Notifier
	metrics      *metrics.Metrics
	logger       *slog.Logger
	quoteTimeout time.Duration
	parallelism  int
	now          func() time.Time
}

// ExecutorConfig carries the Executor's collaborators.
type ExecutorConfig struct {
	Ledger       *ledger.Ledger
	Intentions   store.IntentionRepository
	Instruments  *domain.InstrumentRegistry
	Prices       market.Provider
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	QuoteTimeout time.Duration
	Now          func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		ledger:       cfg.Ledger,
		intentions:   cfg.Intentions,
		instruments:  cfg.Instruments,
		prices:       cfg.Prices,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		quoteTimeout: cfg.QuoteTimeout,
		parallelism:  8,
		now:          cfg.Now,
	}
	if e.quoteTimeout <= 0 {
		e.quoteTimeout = DefaultQuoteTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// snapshot is the per-instrument state of one batch.
type snapshot struct {
	quote        market.Quote
	buyCapacity  *int64 // remaining deliverable units, nil = unlimited
	sellCapacity *int64
}

// outcome is what a single intention resolves to inside its ledger
// transaction.
type outcome struct {
	status   domain.IntentionStatus
	message  string
	quantity int64
	price    *decimal.Decimal
	amount   decimal.Decimal // cost or proceeds
	released decimal.Decimal
	// stranded marks a buy rejected without returning its reservation;
	// releaseStranded returns it after the settlement pass.
	stranded bool
}

// Execute runs one batch. The caller holds the window's exclusive gate,
// so no intention is created or cancelled while it runs.
func (e *Executor) Execute(ctx context.Context, batchDate string) *domain.BatchReport {
	report := &domain.BatchReport{
		BatchID:   uuid.New().String(),
		BatchDate: batchDate,
		StartedAt: e.now(),
		Prices:    make(map[string]decimal.Decimal),
		Fills:     make([]domain.Fill, 0),
	}

	// Step 1: move every pending intention to executing, in queue order.
	batch := make([]*domain.Intention, 0)
	for _, in := range e.intentions.Pending() {
		updated, err := e.intentions.Update(in.ID, func(i *domain.Intention) error {
			if err := i.Transition(domain.StatusExecuting); err != nil {
				return err
			}
			i.BatchID = report.BatchID
			return nil
		})
		if err != nil {
			e.logger.Error("failed to start intention",
				slog.String("intention_id", in.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch = append(batch, updated)
	}

	// Step 2: one quote per instrument.
	snaps := e.fetchSnapshots(ctx, batch)
	for sym, s := range snaps {
		if s != nil {
			report.Prices[sym] = s.quote.Price
		} else {
			report.Unavailable = append(report.Unavailable, sym)
		}
	}
	sort.Strings(report.Unavailable)

	// Steps 3-5: settle each intention in submission order.
	for _, in := range batch {
		final, out, err := e.settle(ctx, in, snaps[in.Symbol], report.BatchID)
		if err != nil {
			e.logger.Error("failed to settle intention",
				slog.String("intention_id", in.ID),
				slog.String("account_id", in.AccountID),
				slog.String("error", err.Error()),
			)
			continue
		}

		report.Processed++
		switch out.status {
		case domain.StatusFilled:
			report.Filled++
		case domain.StatusPartiallyFilled:
			report.PartiallyFilled++
		case domain.StatusRejected:
			report.Rejected++
		}
		if out.quantity > 0 {
			report.Fills = append(report.Fills, domain.Fill{
				BatchID:     report.BatchID,
				IntentionID: final.ID,
				AccountID:   final.AccountID,
				Symbol:      final.Symbol,
				Side:        final.Side,
				Quantity:    out.quantity,
				Price:       *out.price,
				Amount:      out.amount,
				ExecutedAt:  *final.ExecutedAt,
			})
		}

		e.metrics.IntentionFinished(out.status)
		if e.notifier != nil {
			e.notifier.Notify(final.AccountID, eventFor(out.status), final)
		}
	}

	for _, final := range e.releaseStranded(ctx, report.BatchID) {
		report.Processed++
		report.Rejected++
		e.metrics.IntentionFinished(domain.StatusRejected)
		if e.notifier != nil {
			e.notifier.Notify(final.AccountID, domain.EventIntentionRejected, final)
		}
	}
	e.reconcile(ctx, batch)

	report.FinishedAt = e.now()
	e.logger.Info("batch executed",
		slog.String("batch_id", report.BatchID),
		slog.String("batch_date", report.BatchDate),
		slog.Int("processed", report.Processed),
		slog.Int("filled", report.Filled),
		slog.Int("partially_filled", report.PartiallyFilled),
		slog.Int("rejected", report.Rejected),
		slog.Int("instruments_unavailable", len(report.Unavailable)),
	)
	return report
}

// fetchSnapshots queries the provider once per symbol, concurrently. A
// failed or timed out quote leaves a nil entry so that instrument's
// intentions are rejected while the rest of the batch proceeds.
func (e *Executor) fetchSnapshots(ctx context.Context, batch []*domain.Intention) map[string]*snapshot {
	refs := make(map[string]string)
	for _, in := range batch {
		ref := in.InstrumentRef
		if ref == "" && e.instruments != nil {
			if inst, ok := e.instruments.Lookup(in.Symbol); ok {
				ref = inst.Ref
			}
		}
		refs[in.Symbol] = ref
	}

	var mu sync.Mutex
	snaps := make(map[string]*snapshot, len(refs))

	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for sym, ref := range refs {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
			defer cancel()

			q, err := e.prices.GetPrice(qctx, ref)
			if err == nil && !q.Price.IsPositive() {
				err = market.ErrUnavailable
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("market data unavailable, rejecting instrument for this batch",
					slog.String("symbol", sym),
					slog.String("instrument_ref", ref),
					slog.String("error", err.Error()),
				)
				snaps[sym] = nil
				return nil
			}
			snaps[sym] = &snapshot{
				quote:        q,
				buyCapacity:  copyCap(q.MaxBuyQty),
				sellCapacity: copyCap(q.MaxSellQty),
			}
			return nil
		})
	}
	_ = g.Wait()
	return snaps
}

// settle resolves one intention and commits the ledger change and the
// terminal status together. Lock contention is retried a few times; an
// intention that still cannot be settled is rejected and its reservation
// is left for releaseStranded.
func (e *Executor) settle(ctx context.Context, in *domain.Intention, snap *snapshot, batchID string) (*domain.Intention, outcome, error) {
	var (
		final *domain.Intention
		out   outcome
		err   error
	)
	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		err = e.ledger.Update(ctx, in.AccountID, func(tx *ledger.Tx) error {
			resolved, rerr := e.resolve(tx, in, snap)
			if rerr != nil {
				return rerr
			}
			done, ferr := e.finish(in.ID, resolved)
			if ferr != nil {
				return ferr
			}
			out, final = resolved, done
			return nil
		})
		if !errors.Is(err, domain.ErrConcurrentModification) {
			break
		}
		e.metrics.LockTimeout()
	}
	if err == nil {
		consume(snap, in.Side, out.quantity)
		return final, out, nil
	}

	// Could not reach the account. Reject without touching the ledger so
	// the intention is terminal; releaseStranded frees its cash once the
	// lock is available.
	e.logger.Error("settlement failed, rejecting intention",
		slog.String("intention_id", in.ID),
		slog.String("batch_id", batchID),
		slog.String("error", err.Error()),
	)
	out = outcome{
		status:   domain.StatusRejected,
		message:  domain.MsgSettlementFailed,
		released: decimal.Zero,
		stranded: in.HoldsReservation(),
	}
	final, ferr := e.finish(in.ID, out)
	if ferr != nil {
		return nil, out, errors.Join(err, ferr)
	}
	return final, out, nil
}

// releaseStranded runs after the settlement pass. Any intention of the
// batch still executing is rejected, then every rejected intention that
// kept its reservation gets it back. Both steps wait for account locks
// without a timeout so no reservation outlives the batch. The returned
// intentions are the ones forced out of executing.
func (e *Executor) releaseStranded(ctx context.Context, batchID string) []*domain.Intention {
	ctx = context.WithoutCancel(ctx)

	forced := make([]*domain.Intention, 0)
	for _, in := range e.intentions.ByStatus(domain.StatusExecuting) {
		if in.BatchID != batchID {
			continue
		}
		final, err := e.finish(in.ID, outcome{
			status:   domain.StatusRejected,
			message:  domain.MsgSettlementFailed,
			released: decimal.Zero,
			stranded: in.HoldsReservation(),
		})
		if err != nil {
			e.logger.Error("failed to reject stuck intention",
				slog.String("intention_id", in.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		forced = append(forced, final)
	}

	for _, in := range e.intentions.ByStatus(domain.StatusRejected) {
		if in.BatchID != batchID || !in.HoldsReservation() {
			continue
		}
		err := e.ledger.UpdateWait(ctx, in.AccountID, func(tx *ledger.Tx) error {
			if err := tx.Release(in.ReservedAmount); err != nil {
				return err
			}
			_, err := e.intentions.Update(in.ID, func(i *domain.Intention) error {
				i.Released = true
				i.ReleasedAmount = i.ReservedAmount
				return nil
			})
			return err
		})
		if err != nil {
			e.logger.Error("failed to release stranded reservation",
				slog.String("intention_id", in.ID),
				slog.String("account_id", in.AccountID),
				slog.String("amount", domain.FormatAmount(in.ReservedAmount)),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Warn("released stranded reservation",
			slog.String("intention_id", in.ID),
			slog.String("account_id", in.AccountID),
			slog.String("amount", domain.FormatAmount(in.ReservedAmount)),
		)
	}
	return forced
}

// reconcile compares each touched account's reserved balance with the
// reservations its intentions still hold. A mismatch means cash is
// earmarked for nothing, or spent twice, and is logged for the operator.
func (e *Executor) reconcile(ctx context.Context, batch []*domain.Intention) {
	seen := make(map[string]bool)
	for _, in := range batch {
		if seen[in.AccountID] {
			continue
		}
		seen[in.AccountID] = true

		acct, err := e.ledger.Snapshot(ctx, in.AccountID)
		if err != nil {
			continue
		}
		held := e.intentions.ReservedByAccount(in.AccountID)
		if !acct.ReservedBalance.Equal(held) {
			e.logger.Error("reserved balance does not match open reservations",
				slog.String("account_id", in.AccountID),
				slog.String("reserved_balance", domain.FormatAmount(acct.ReservedBalance)),
				slog.String("open_reservations", domain.FormatAmount(held)),
			)
		}
	}
}

// resolve decides the fill inside the account's transaction and applies
// the ledger side of it.
func (e *Executor) resolve(tx *ledger.Tx, in *domain.Intention, snap *snapshot) (outcome, error) {
	reject := func(msg string) (outcome, error) {
		out := outcome{status: domain.StatusRejected, message: msg, released: decimal.Zero}
		if in.HoldsReservation() {
			if err := tx.Release(in.ReservedAmount); err != nil {
				return outcome{}, err
			}
			out.released = in.ReservedAmount
		}
		return out, nil
	}

	if snap == nil {
		return reject(domain.MsgMarketDataUnavailable)
	}
	price := snap.quote.Price

	if in.OrderType == domain.OrderTypeLimit && in.LimitPrice != nil {
		if in.Side == domain.SideBuy && price.GreaterThan(*in.LimitPrice) {
			return reject(domain.MsgLimitNotReached)
		}
		if in.Side == domain.SideSell && price.LessThan(*in.LimitPrice) {
			return reject(domain.MsgLimitNotReached)
		}
	}

	acct := tx.Account()
	switch {
	case !acct.Active:
		return reject(domain.MsgAccountInactive)
	case acct.Frozen:
		return reject(domain.MsgAccountFrozen)
	}

	if in.Side == domain.SideBuy {
		qty := capped(in.Quantity, snap.buyCapacity)
		if qty == 0 {
			return reject(domain.MsgNoLiquidity)
		}
		affordable := tx.BuyingPower(in.ReservedAmount).Div(price).IntPart()
		if affordable < qty {
			qty = affordable
		}
		if qty <= 0 {
			return reject(domain.MsgInsufficientFunds)
		}
		res, err := tx.CommitBuy(in.Symbol, qty, price, in.ReservedAmount)
		if err != nil {
			return outcome{}, err
		}
		return filledOutcome(in.Quantity, qty, price, res.Cost, res.Released), nil
	}

	held := acct.HeldQuantity(in.Symbol)
	if held == 0 {
		return reject(domain.MsgInsufficientShares)
	}
	qty := min(in.Quantity, held)
	qty = capped(qty, snap.sellCapacity)
	if qty == 0 {
		return reject(domain.MsgNoLiquidity)
	}
	proceeds, err := tx.CommitSell(in.Symbol, qty, price)
	if err != nil {
		return outcome{}, err
	}
	return filledOutcome(in.Quantity, qty, price, proceeds, decimal.Zero), nil
}

func filledOutcome(requested, filled int64, price, amount, released decimal.Decimal) outcome {
	out := outcome{
		status:   domain.StatusFilled,
		quantity: filled,
		price:    &price,
		amount:   amount,
		released: released,
	}
	if filled < requested {
		out.status = domain.StatusPartiallyFilled
		out.message = domain.MsgPartialFill
	}
	return out
}

// finish writes the terminal status. A reservation ends released, whether
// it was spent, partly returned or returned in full, unless the outcome
// is stranded.
func (e *Executor) finish(id string, out outcome) (*domain.Intention, error) {
	now := e.now()
	return e.intentions.Update(id, func(i *domain.Intention) error {
		if err := i.Transition(out.status); err != nil {
			return err
		}
		i.StatusMessage = out.message
		i.ExecutedAt = &now
		i.FilledQuantity = out.quantity
		i.FillPrice = out.price
		i.ActualCost = out.amount
		i.ReleasedAmount = out.released
		if i.Side == domain.SideBuy && !out.stranded {
			i.Released = true
		}
		return nil
	})
}

func eventFor(status domain.IntentionStatus) string {
	switch status {
	case domain.StatusFilled:
		return domain.EventIntentionFilled
	case domain.StatusPartiallyFilled:
		return domain.EventIntentionPartiallyFilled
	default:
		return domain.EventIntentionRejected
	}
}

func copyCap(c *int64) *int64 {
	if c == nil {
		return nil
	}
	v := max(*c, 0)
	return &v
}

func capped(qty int64, capacity *int64) int64 {
	if capacity == nil {
		return qty
	}
	return min(qty, *capacity)
}

func consume(snap *snapshot, side domain.Side, qty int64) {
	if snap == nil || qty == 0 {
		return
	}
	c := snap.buyCapacity
	if side == domain.SideSell {
		c = snap.sellCapacity
	}
	if c != nil {
		*c -= qty
	}
}
