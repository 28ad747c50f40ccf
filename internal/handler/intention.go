package handler

import (
	"log/slog"
	"net/http"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// IntentionHandler handles HTTP requests for intention endpoints.
type IntentionHandler struct {
	intentionSvc *service.IntentionService
	logger       *slog.Logger
}

// NewIntentionHandler creates a new IntentionHandler.
func NewIntentionHandler(intentionSvc *service.IntentionService, logger *slog.Logger) *IntentionHandler {
	return &IntentionHandler{intentionSvc: intentionSvc, logger: logger}
}

// createIntentionRequest is the JSON request body for POST /intentions.
// Prices accept either JSON numbers or decimal strings.
type createIntentionRequest struct {
	AccountID      string           `json:"account_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Quantity       int64            `json:"quantity"`
	OrderType      string           `json:"order_type"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	EstimatedPrice *decimal.Decimal `json:"estimated_price"`
}

// intentionResponse is the JSON form of an intention.
// All fields are always present; nullable fields use pointers.
type intentionResponse struct {
	IntentionID    string  `json:"intention_id"`
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Quantity       int64   `json:"quantity"`
	LimitPrice     *string `json:"limit_price"`
	EstimatedPrice string  `json:"estimated_price"`
	ReservedAmount string  `json:"reserved_amount"`
	Status         string  `json:"status"`
	StatusMessage  string  `json:"status_message"`
	SubmittedAt    string  `json:"submitted_at"`
	ExecutedAt     *string `json:"executed_at"`
	CancelledAt    *string `json:"cancelled_at"`
	BatchID        *string `json:"batch_id"`
	FilledQuantity int64   `json:"filled_quantity"`
	FillPrice      *string `json:"fill_price"`
	ActualCost     string  `json:"actual_cost"`
	ReleasedAmount string  `json:"released_amount"`
}

// intentionListResponse is the JSON response for GET /accounts/{account_id}/intentions.
type intentionListResponse struct {
	Intentions []intentionResponse `json:"intentions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
}

// Create handles POST /intentions.
func (h *IntentionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIntentionRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	in, err := h.intentionSvc.Create(r.Context(), service.CreateIntentionRequest{
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Side:           domain.Side(req.Side),
		Quantity:       req.Quantity,
		OrderType:      domain.OrderType(req.OrderType),
		LimitPrice:     decimalString(req.LimitPrice),
		EstimatedPrice: decimalString(req.EstimatedPrice),
	})
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildIntentionResponse(in))
}

// Get handles GET /intentions/{intention_id}.
func (h *IntentionHandler) Get(w http.ResponseWriter, r *http.Request) {
	in, err := h.intentionSvc.Get(chi.URLParam(r, "intention_id"))
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildIntentionResponse(in))
}

// Cancel handles DELETE /intentions/{intention_id}. The response carries
// the released reservation.
func (h *IntentionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	in, err := h.intentionSvc.Cancel(r.Context(), chi.URLParam(r, "intention_id"))
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildIntentionResponse(in))
}

// List handles GET /accounts/{account_id}/intentions.
func (h *IntentionHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var statusFilter *domain.IntentionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.IntentionStatus(s)
		statusFilter = &status
	}

	page, err := parseIntParam(r, "page", 1)
	if err != nil {
		mapError(w, h.logger, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 20)
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	list, total, err := h.intentionSvc.List(accountID, statusFilter, page, limit)
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	items := make([]intentionResponse, len(list))
	for i, in := range list {
		items[i] = buildIntentionResponse(in)
	}

	WriteJSON(w, http.StatusOK, intentionListResponse{
		Intentions: items,
		Total:      total,
		Page:       page,
		Limit:      limit,
	})
}

func buildIntentionResponse(in *domain.Intention) intentionResponse {
	resp := intentionResponse{
		IntentionID:    in.ID,
		AccountID:      in.AccountID,
		Symbol:         in.Symbol,
		Side:           string(in.Side),
		OrderType:      string(in.OrderType),
		Quantity:       in.Quantity,
		LimitPrice:     formatAmountPtr(in.LimitPrice),
		EstimatedPrice: domain.FormatAmount(in.EstimatedPrice),
		ReservedAmount: domain.FormatAmount(in.ReservedAmount),
		Status:         string(in.Status),
		StatusMessage:  in.StatusMessage,
		SubmittedAt:    formatTime(in.SubmittedAt),
		ExecutedAt:     formatTimePtr(in.ExecutedAt),
		CancelledAt:    formatTimePtr(in.CancelledAt),
		FilledQuantity: in.FilledQuantity,
		FillPrice:      formatAmountPtr(in.FillPrice),
		ActualCost:     domain.FormatAmount(in.ActualCost),
		ReleasedAmount: domain.FormatAmount(in.ReleasedAmount),
	}
	if in.BatchID != "" {
		id := in.BatchID
		resp.BatchID = &id
	}
	return resp
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
