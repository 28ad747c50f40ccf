package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/market"
	"github.com/shopspring/decimal"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// DefaultReservationBuffer is the headroom a market buy reserves above
// its estimated notional.
var DefaultReservationBuffer = decimal.RequireFromString("0.02")

// RegisterInstrumentRequest represents the input for instrument registration.
type RegisterInstrumentRequest struct {
	Symbol   string
	Ref      string
	Currency string
}

// QuoteResponse represents the response for GET /instruments/{symbol}/quote.
type QuoteResponse struct {
	Symbol            string
	Side              domain.Side
	QuantityRequested int64
	Price             decimal.Decimal
	Currency          string
	EstimatedTotal    decimal.Decimal
	RequiredReserve   decimal.Decimal // zero for sells
	MaxDeliverable    *int64          // nil when the provider imposes no cap
	AsOf              time.Time
	QuotedAt          time.Time
}

// InstrumentService handles the instrument catalog and price quotes.
type InstrumentService struct {
	instruments  *domain.InstrumentRegistry
	prices       market.Provider
	buffer       decimal.Decimal
	quoteTimeout time.Duration
}

// NewInstrumentService creates a new InstrumentService with the given dependencies.
func NewInstrumentService(
	instruments *domain.InstrumentRegistry,
	prices market.Provider,
	buffer decimal.Decimal,
	quoteTimeout time.Duration,
) *InstrumentService {
	return &InstrumentService{
		instruments:  instruments,
		prices:       prices,
		buffer:       buffer,
		quoteTimeout: quoteTimeout,
	}
}

// List returns every tradable instrument.
func (s *InstrumentService) List() []domain.Instrument {
	return s.instruments.List()
}

// Register validates and adds an instrument, replacing any existing one
// with the same symbol.
func (s *InstrumentService) Register(req RegisterInstrumentRequest) (domain.Instrument, error) {
	if !symbolRegex.MatchString(req.Symbol) {
		return domain.Instrument{}, &domain.ValidationError{
			Message: "symbol must match ^[A-Z]{1,10}$",
		}
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" || len(ref) > 64 {
		return domain.Instrument{}, &domain.ValidationError{
			Message: "ref is required and must be at most 64 characters",
		}
	}
	if !currencyRegex.MatchString(req.Currency) {
		return domain.Instrument{}, &domain.ValidationError{
			Message: "currency must be a three-letter ISO code",
		}
	}

	in := domain.Instrument{Symbol: req.Symbol, Ref: ref, Currency: req.Currency}
	s.instruments.Register(in)
	return in, nil
}

// Quote prices quantity units of symbol at the provider's current price
// and reports the cash a buy would reserve.
func (s *InstrumentService) Quote(ctx context.Context, symbol string, side domain.Side, quantity int64) (*QuoteResponse, error) {
	in, ok := s.instruments.Lookup(symbol)
	if !ok {
		return nil, domain.ErrInvalidInstrument
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	q, err := fetchQuote(ctx, s.prices, s.quoteTimeout, in.Ref)
	if err != nil {
		return nil, err
	}

	resp := &QuoteResponse{
		Symbol:            symbol,
		Side:              side,
		QuantityRequested: quantity,
		Price:             q.Price,
		Currency:          q.Currency,
		EstimatedTotal:    domain.Notional(quantity, q.Price),
		RequiredReserve:   decimal.Zero,
		AsOf:              q.AsOf,
		QuotedAt:          time.Now().UTC(),
	}
	if resp.Currency == "" {
		resp.Currency = in.Currency
	}
	if side == domain.SideBuy {
		resp.RequiredReserve = domain.ReservationFor(quantity, q.Price, s.buffer)
		resp.MaxDeliverable = q.MaxBuyQty
	} else {
		resp.MaxDeliverable = q.MaxSellQty
	}
	return resp, nil
}

// fetchQuote asks the provider for ref's price under its own timeout.
// Provider failures surface as domain.ErrMarketDataUnavailable.
func fetchQuote(ctx context.Context, p market.Provider, timeout time.Duration, ref string) (market.Quote, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q, err := p.GetPrice(ctx, ref)
	if err != nil {
		return market.Quote{}, fmt.Errorf("%w: %s: %w", domain.ErrMarketDataUnavailable, ref, err)
	}
	if !q.Price.IsPositive() {
		return market.Quote{}, fmt.Errorf("%w: %s has no positive price", domain.ErrMarketDataUnavailable, ref)
	}
	return q, nil
}
