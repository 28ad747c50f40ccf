package handler

import (
	"log/slog"
	"net/http"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
)

// AccountHandler serves the account owner's read endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	window     *engine.Window
	logger     *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, window *engine.Window, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, window: window, logger: logger}
}

type holdingResponse struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgCostBasis string  `json:"avg_cost_basis"`
	LastPrice    *string `json:"last_price"`
	MarketValue  *string `json:"market_value"`
}

type fillResponse struct {
	BatchID     string `json:"batch_id"`
	IntentionID string `json:"intention_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	ExecutedAt  string `json:"executed_at"`
}

// portfolioResponse is the JSON response for GET /accounts/{account_id}/portfolio.
type portfolioResponse struct {
	AccountID        string            `json:"account_id"`
	CashBalance      string            `json:"cash_balance"`
	ReservedBalance  string            `json:"reserved_balance"`
	AvailableBalance string            `json:"available_balance"`
	AssignedCash     string            `json:"assigned_cash"`
	Active           bool              `json:"active"`
	Frozen           bool              `json:"frozen"`
	Holdings         []holdingResponse `json:"holdings"`
	PendingCount     int               `json:"pending_intentions"`
	LastBatchDate    *string           `json:"last_batch_date"`
	RecentFills      []fillResponse    `json:"recent_fills"`
	UpdatedAt        string            `json:"updated_at"`
}

// batchResponse is the JSON response for GET /batch.
type batchResponse struct {
	NextBatchAt        string  `json:"next_batch_at"`
	CancellationCutoff string  `json:"cancellation_cutoff"`
	OrdersLocked       bool    `json:"orders_locked"`
	LastBatchDate      *string `json:"last_batch_date"`
}

// Portfolio handles GET /accounts/{account_id}/portfolio.
func (h *AccountHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.accountSvc.Portfolio(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	fills := make([]fillResponse, len(p.RecentFills))
	for i, f := range p.RecentFills {
		fills[i] = fillResponse{
			BatchID:     f.BatchID,
			IntentionID: f.IntentionID,
			Symbol:      f.Symbol,
			Side:        string(f.Side),
			Quantity:    f.Quantity,
			Price:       domain.FormatAmount(f.Price),
			Amount:      domain.FormatAmount(f.Amount),
			ExecutedAt:  formatTime(f.ExecutedAt),
		}
	}

	WriteJSON(w, http.StatusOK, portfolioResponse{
		AccountID:        p.AccountID,
		CashBalance:      domain.FormatAmount(p.CashBalance),
		ReservedBalance:  domain.FormatAmount(p.ReservedBalance),
		AvailableBalance: domain.FormatAmount(p.AvailableBalance),
		AssignedCash:     domain.FormatAmount(p.AssignedCash),
		Active:           p.Active,
		Frozen:           p.Frozen,
		Holdings:         buildHoldingResponses(p.Holdings),
		PendingCount:     p.PendingCount,
		LastBatchDate:    optionalString(p.LastBatchDate),
		RecentFills:      fills,
		UpdatedAt:        formatTime(p.UpdatedAt),
	})
}

// Batch handles GET /batch.
func (h *AccountHandler) Batch(w http.ResponseWriter, r *http.Request) {
	st := h.window.State()
	WriteJSON(w, http.StatusOK, batchResponse{
		NextBatchAt:        formatTime(st.NextBatchAt),
		CancellationCutoff: formatTime(st.CancellationCutoff),
		OrdersLocked:       st.OrdersLocked,
		LastBatchDate:      optionalString(st.LastBatchDate),
	})
}

func buildHoldingResponses(holdings []domain.HoldingValue) []holdingResponse {
	out := make([]holdingResponse, len(holdings))
	for i, hv := range holdings {
		out[i] = holdingResponse{
			Symbol:       hv.Symbol,
			Quantity:     hv.Quantity,
			AvgCostBasis: domain.FormatAmount(hv.AvgCostBasis),
			LastPrice:    formatAmountPtr(hv.LastPrice),
			MarketValue:  formatAmountPtr(hv.MarketValue),
		}
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
