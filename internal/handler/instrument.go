package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
)

// InstrumentHandler handles HTTP requests for instrument endpoints.
type InstrumentHandler struct {
	instrumentSvc *service.InstrumentService
	logger        *slog.Logger
}

// NewInstrumentHandler creates a new InstrumentHandler.
func NewInstrumentHandler(instrumentSvc *service.InstrumentService, logger *slog.Logger) *InstrumentHandler {
	return &InstrumentHandler{instrumentSvc: instrumentSvc, logger: logger}
}

type instrumentResponse struct {
	Symbol   string `json:"symbol"`
	Ref      string `json:"ref"`
	Currency string `json:"currency"`
}

type instrumentListResponse struct {
	Instruments []instrumentResponse `json:"instruments"`
}

// quoteResponse is the JSON response for GET /instruments/{symbol}/quote.
type quoteResponse struct {
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	QuantityRequested int64  `json:"quantity_requested"`
	Price             string `json:"price"`
	Currency          string `json:"currency"`
	EstimatedTotal    string `json:"estimated_total"`
	RequiredReserve   string `json:"required_reserve"`
	MaxDeliverable    *int64 `json:"max_deliverable"`
	AsOf              string `json:"as_of"`
	QuotedAt          string `json:"quoted_at"`
}

// List handles GET /instruments.
func (h *InstrumentHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.instrumentSvc.List()
	out := make([]instrumentResponse, len(list))
	for i, in := range list {
		out[i] = instrumentResponse{Symbol: in.Symbol, Ref: in.Ref, Currency: in.Currency}
	}
	WriteJSON(w, http.StatusOK, instrumentListResponse{Instruments: out})
}

// Quote handles GET /instruments/{symbol}/quote?side=&quantity=.
func (h *InstrumentHandler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	side := r.URL.Query().Get("side")

	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a positive integer")
		return
	}

	q, err := h.instrumentSvc.Quote(r.Context(), symbol, domain.Side(side), quantity)
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		Symbol:            q.Symbol,
		Side:              string(q.Side),
		QuantityRequested: q.QuantityRequested,
		Price:             q.Price.String(),
		Currency:          q.Currency,
		EstimatedTotal:    domain.FormatAmount(q.EstimatedTotal),
		RequiredReserve:   domain.FormatAmount(q.RequiredReserve),
		MaxDeliverable:    q.MaxDeliverable,
		AsOf:              formatTime(q.AsOf),
		QuotedAt:          formatTime(q.QuotedAt),
	})
}
