package domain

import "time"

// Notification event names.
const (
	EventIntentionFilled          = "intention.filled"
	EventIntentionPartiallyFilled = "intention.partially_filled"
	EventIntentionRejected        = "intention.rejected"
	EventIntentionCancelled       = "intention.cancelled"
	EventAllocationIncreased      = "allocation.increased"
)

// Webhook represents an account's subscription to an event notification.
type Webhook struct {
	WebhookID string
	AccountID string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
