package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/market"
	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidSides contains the allowed intention sides.
var ValidSides = map[domain.Side]bool{
	domain.SideBuy:  true,
	domain.SideSell: true,
}

// ValidOrderTypes contains the allowed order types.
var ValidOrderTypes = map[domain.OrderType]bool{
	domain.OrderTypeMarket: true,
	domain.OrderTypeLimit:  true,
}

// CreateIntentionRequest represents the input for intention creation.
// Prices are decimal strings so no precision is lost before validation.
type CreateIntentionRequest struct {
	AccountID      string
	Symbol         string
	Side           domain.Side
	Quantity       int64
	OrderType      domain.OrderType
	LimitPrice     *string
	EstimatedPrice *string // market buys only; quoted from the provider when absent
}

// IntentionServiceConfig carries the IntentionService's collaborators.
type IntentionServiceConfig struct {
	Ledger            *ledger.Ledger
	Intentions        store.IntentionRepository
	Instruments       *domain.InstrumentRegistry
	Prices            market.Provider
	Window            *engine.Window
	Notifier          engine.Notifier
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	ReservationBuffer decimal.Decimal
	QuoteTimeout      time.Duration
	Now               func() time.Time
}

// IntentionService handles intention submission, cancellation and queries.
type IntentionService struct {
	ledger       *ledger.Ledger
	intentions   store.IntentionRepository
	instruments  *domain.InstrumentRegistry
	prices       market.Provider
	window       *engine.Window
	notifier     engine.Notifier
	metrics      *metrics.Metrics
	logger       *slog.Logger
	buffer       decimal.Decimal
	quoteTimeout time.Duration
	now          func() time.Time
}

// NewIntentionService creates a new IntentionService.
func NewIntentionService(cfg IntentionServiceConfig) *IntentionService {
	s := &IntentionService{
		ledger:       cfg.Ledger,
		intentions:   cfg.Intentions,
		instruments:  cfg.Instruments,
		prices:       cfg.Prices,
		window:       cfg.Window,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		buffer:       cfg.ReservationBuffer,
		quoteTimeout: cfg.QuoteTimeout,
		now:          cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.quoteTimeout <= 0 {
		s.quoteTimeout = engine.DefaultQuoteTimeout
	}
	return s
}

// Create validates the request and places a pending intention. A buy
// reserves its cash in the same ledger transaction that stores it, so
// either both happen or neither does.
func (s *IntentionService) Create(ctx context.Context, req CreateIntentionRequest) (*domain.Intention, error) {
	in, err := s.buildIntention(req)
	if err != nil {
		return nil, err
	}

	// Market buys need an estimate before anything is locked.
	if in.Side == domain.SideBuy && in.OrderType == domain.OrderTypeMarket {
		if err := s.estimate(ctx, in, req.EstimatedPrice); err != nil {
			return nil, err
		}
	}

	release := s.window.Shared()
	defer release()

	in.ID = uuid.New().String()
	in.SubmittedAt = s.now().UTC()

	err = s.ledger.Update(ctx, in.AccountID, func(tx *ledger.Tx) error {
		acct := tx.Account()
		if err := acct.CheckMutable(); err != nil {
			return err
		}
		if in.Side == domain.SideSell {
			if held := acct.HeldQuantity(in.Symbol); held < in.Quantity {
				return &domain.InsufficientSharesError{
					Symbol:    in.Symbol,
					Requested: in.Quantity,
					Held:      held,
				}
			}
		} else if err := tx.Reserve(in.ReservedAmount); err != nil {
			return err
		}
		return s.intentions.Create(in)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IntentionCreated(in.Side, in.OrderType)
	s.logger.Info("intention created",
		slog.String("intention_id", in.ID),
		slog.String("account_id", in.AccountID),
		slog.String("symbol", in.Symbol),
		slog.String("side", string(in.Side)),
		slog.Int64("quantity", in.Quantity),
		slog.String("reserved", domain.FormatAmount(in.ReservedAmount)),
	)
	return in, nil
}

func (s *IntentionService) buildIntention(req CreateIntentionRequest) (*domain.Intention, error) {
	if err := validateAccountID(req.AccountID); err != nil {
		return nil, err
	}
	if !ValidSides[req.Side] {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	if !ValidOrderTypes[orderType] {
		return nil, &domain.ValidationError{Message: "order_type must be 'market' or 'limit'"}
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	instrument, ok := s.instruments.Lookup(req.Symbol)
	if !ok {
		return nil, domain.ErrInvalidInstrument
	}

	in := &domain.Intention{
		AccountID:      req.AccountID,
		Symbol:         instrument.Symbol,
		InstrumentRef:  instrument.Ref,
		Side:           req.Side,
		Quantity:       req.Quantity,
		OrderType:      orderType,
		Status:         domain.StatusPending,
		ReservedAmount: decimal.Zero,
		ActualCost:     decimal.Zero,
		ReleasedAmount: decimal.Zero,
	}

	switch orderType {
	case domain.OrderTypeLimit:
		if req.LimitPrice == nil {
			return nil, &domain.ValidationError{Message: "limit orders require limit_price"}
		}
		limit, err := parsePrice(*req.LimitPrice, "limit_price")
		if err != nil {
			return nil, err
		}
		in.LimitPrice = &limit
		in.EstimatedPrice = limit
		if in.Side == domain.SideBuy {
			in.ReservedAmount = domain.Notional(in.Quantity, limit)
		}
	case domain.OrderTypeMarket:
		if req.LimitPrice != nil {
			return nil, &domain.ValidationError{Message: "market orders must not include limit_price"}
		}
		if req.EstimatedPrice != nil && in.Side == domain.SideSell {
			return nil, &domain.ValidationError{Message: "estimated_price applies to market buys only"}
		}
	}
	return in, nil
}

func parsePrice(raw, field string) (decimal.Decimal, error) {
	price, err := domain.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("%s: %v", field, err)}
	}
	if !price.IsPositive() {
		return decimal.Zero, &domain.ValidationError{Message: field + " must be > 0"}
	}
	return price, nil
}

// estimate fills in a market buy's estimated price and reservation,
// preferring the client's estimate over a fresh quote.
func (s *IntentionService) estimate(ctx context.Context, in *domain.Intention, clientEstimate *string) error {
	var price decimal.Decimal
	if clientEstimate != nil {
		p, err := parsePrice(*clientEstimate, "estimated_price")
		if err != nil {
			return err
		}
		price = p
	} else {
		q, err := fetchQuote(ctx, s.prices, s.quoteTimeout, in.InstrumentRef)
		if err != nil {
			s.logger.Warn("no quote for market buy estimate",
				slog.String("symbol", in.Symbol),
				slog.String("error", err.Error()),
			)
			return err
		}
		price = q.Price
	}
	in.EstimatedPrice = price
	in.ReservedAmount = domain.ReservationFor(in.Quantity, price, s.buffer)
	return nil
}

// Cancel withdraws a pending intention and releases its reservation.
// It fails with domain.ErrOrdersLocked once the cancellation cutoff has
// passed.
func (s *IntentionService) Cancel(ctx context.Context, intentionID string) (*domain.Intention, error) {
	release := s.window.Shared()
	defer release()

	if s.window.OrdersLocked() {
		return nil, domain.ErrOrdersLocked
	}

	current, err := s.intentions.Get(intentionID)
	if err != nil {
		return nil, err
	}

	var cancelled *domain.Intention
	err = s.ledger.Update(ctx, current.AccountID, func(tx *ledger.Tx) error {
		updated, err := s.intentions.Update(intentionID, func(in *domain.Intention) error {
			if in.Status != domain.StatusPending {
				return domain.ErrIntentionNotCancellable
			}
			if err := in.Transition(domain.StatusCancelled); err != nil {
				return err
			}
			now := s.now().UTC()
			in.CancelledAt = &now
			if in.HoldsReservation() {
				if err := tx.Release(in.ReservedAmount); err != nil {
					return err
				}
				in.ReleasedAmount = in.ReservedAmount
				in.Released = true
			}
			return nil
		})
		cancelled = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IntentionFinished(domain.StatusCancelled)
	if s.notifier != nil {
		s.notifier.Notify(cancelled.AccountID, domain.EventIntentionCancelled, cancelled)
	}
	s.logger.Info("intention cancelled",
		slog.String("intention_id", cancelled.ID),
		slog.String("account_id", cancelled.AccountID),
		slog.String("released", domain.FormatAmount(cancelled.ReleasedAmount)),
	)
	return cancelled, nil
}

// Get retrieves an intention by ID.
func (s *IntentionService) Get(intentionID string) (*domain.Intention, error) {
	return s.intentions.Get(intentionID)
}

// List returns a paginated list of an account's intentions, newest first,
// with optional status filtering.
func (s *IntentionService) List(accountID string, status *domain.IntentionStatus, page, limit int) ([]*domain.Intention, int, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, 0, err
	}
	if status != nil && !status.Valid() {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: pending, executing, filled, partially_filled, cancelled, rejected", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	list, total := s.intentions.ListByAccount(accountID, status, page, limit)
	return list, total, nil
}
