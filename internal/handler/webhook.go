package handler

import (
	"log/slog"
	"net/http"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler serves an account's notification subscriptions.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc, logger: logger}
}

// subscribeRequest subscribes one URL to one or more account events.
type subscribeRequest struct {
	AccountID string   `json:"account_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
}

type subscriptionResponse struct {
	WebhookID string `json:"webhook_id"`
	AccountID string `json:"account_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type subscriptionsResponse struct {
	AccountID string                 `json:"account_id"`
	Webhooks  []subscriptionResponse `json:"webhooks"`
	Total     int                    `json:"total"`
}

// Upsert handles POST /webhooks. Re-subscribing an event keeps its
// webhook_id and only swaps the URL, so 201 means at least one event is new.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	subs, created, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		AccountID: req.AccountID,
		URL:       req.URL,
		Events:    req.Events,
	})
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, newSubscriptionsResponse(req.AccountID, subs))
}

// List handles GET /webhooks?account_id=&event=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID := q.Get("account_id")
	if accountID == "" {
		mapError(w, h.logger, &domain.ValidationError{Message: "account_id query parameter is required"})
		return
	}

	subs, err := h.webhookSvc.List(accountID, q.Get("event"))
	if err != nil {
		mapError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSubscriptionsResponse(accountID, subs))
}

// Delete handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.Delete(chi.URLParam(r, "webhook_id")); err != nil {
		mapError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newSubscriptionsResponse(accountID string, subs []domain.Webhook) subscriptionsResponse {
	out := subscriptionsResponse{
		AccountID: accountID,
		Webhooks:  make([]subscriptionResponse, len(subs)),
		Total:     len(subs),
	}
	for i, s := range subs {
		out.Webhooks[i] = subscriptionResponse{
			WebhookID: s.WebhookID,
			AccountID: s.AccountID,
			Event:     s.Event,
			URL:       s.URL,
			CreatedAt: formatTime(s.CreatedAt),
			UpdatedAt: formatTime(s.UpdatedAt),
		}
	}
	return out
}
