package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/notify"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/google/uuid"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	domain.EventIntentionFilled:          true,
	domain.EventIntentionPartiallyFilled: true,
	domain.EventIntentionRejected:        true,
	domain.EventIntentionCancelled:       true,
	domain.EventAllocationIncreased:      true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook CRUD and delivers account events to
// subscribed URLs. It is a notify.Sink.
type WebhookService struct {
	store    *store.WebhookStore
	accounts store.AccountRepository
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	accounts store.AccountRepository,
	webhookTimeout time.Duration,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger.With(slog.String("component", "webhook")),
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]domain.Webhook, bool, error) {
	if err := validateAccountID(req.AccountID); err != nil {
		return nil, false, err
	}
	if _, err := s.accounts.Get(req.AccountID); err != nil {
		return nil, false, err
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: intention.filled, intention.partially_filled, intention.rejected, intention.cancelled, allocation.increased",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]domain.Webhook, 0, len(events))
	for _, event := range events {
		w, created := s.store.Upsert(domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List returns an account's webhook subscriptions ordered by event. A
// non-empty event narrows the result to that event's subscription.
func (s *WebhookService) List(accountID, event string) ([]domain.Webhook, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if event != "" && !validWebhookEvents[event] {
		return nil, &domain.ValidationError{Message: "Unknown event type: " + event}
	}
	if _, err := s.accounts.Get(accountID); err != nil {
		return nil, err
	}
	if event == "" {
		return s.store.ListByAccount(accountID), nil
	}
	if wh, ok := s.store.Lookup(accountID, event); ok {
		return []domain.Webhook{wh}, nil
	}
	return []domain.Webhook{}, nil
}

// Delete removes a webhook subscription by ID.
func (s *WebhookService) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}

// Name identifies webhook delivery in fanout logs.
func (s *WebhookService) Name() string { return "webhook" }

// Deliver posts ev to the account's subscription for its event type, if
// any. Delivery happens in the background and failures are only logged.
func (s *WebhookService) Deliver(ev notify.Event) {
	wh, ok := s.store.Lookup(ev.AccountID, ev.Event)
	if !ok {
		return
	}
	go s.deliver(wh, ev)
}

// deliver sends the webhook payload via HTTP POST with the required headers.
func (s *WebhookService) deliver(wh domain.Webhook, ev notify.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal webhook payload", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", ev.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("webhook endpoint rejected delivery",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("event", ev.Event),
			slog.Int("status", resp.StatusCode),
		)
	}
}
