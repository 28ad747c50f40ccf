package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// quoteResponse is the wire shape served by the quote endpoint.
type quoteResponse struct {
	Ref        string          `json:"ref"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	AsOf       time.Time       `json:"as_of"`
	MaxBuyQty  *int64          `json:"max_buy_qty,omitempty"`
	MaxSellQty *int64          `json:"max_sell_qty,omitempty"`
}

// HTTPProvider fetches quotes from GET {baseURL}/quotes/{ref}. Calls go
// through a circuit breaker so a failing upstream is not hammered during
// a batch.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider, *gobreaker.Settings)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider, _ *gobreaker.Settings) { p.client = c }
}

// WithBreakerStateHook is called on every breaker transition, in addition
// to the warning log.
func WithBreakerStateHook(fn func(name string, to gobreaker.State)) HTTPOption {
	return func(_ *HTTPProvider, s *gobreaker.Settings) {
		prev := s.OnStateChange
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			if prev != nil {
				prev(name, from, to)
			}
			fn(name, to)
		}
	}
}

// NewHTTPProvider creates a provider for baseURL with the given request
// timeout.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        "market-data",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	for _, opt := range opts {
		opt(p, &settings)
	}
	p.cb = gobreaker.NewCircuitBreaker(settings)
	return p
}

// GetPrice fetches the quote for ref through the circuit breaker.
func (p *HTTPProvider) GetPrice(ctx context.Context, ref string) (Quote, error) {
	res, err := p.cb.Execute(func() (any, error) {
		return p.fetch(ctx, ref)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, ref, err)
		}
		return Quote{}, err
	}
	return res.(Quote), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, ref string) (Quote, error) {
	endpoint := p.baseURL + "/quotes/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: %s: upstream status %d", ErrUnavailable, ref, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("%w: %s: decode: %v", ErrUnavailable, ref, err)
	}
	if !body.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s: non-positive price %s", ErrUnavailable, ref, body.Price)
	}

	q := Quote{
		Ref:        ref,
		Price:      body.Price,
		Currency:   body.Currency,
		AsOf:       body.AsOf,
		MaxBuyQty:  body.MaxBuyQty,
		MaxSellQty: body.MaxSellQty,
	}
	if q.AsOf.IsZero() {
		q.AsOf = time.Now()
	}
	return q, nil
}
