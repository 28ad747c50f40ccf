// Package notify fans account events out to push channels. Delivery is
// best-effort: a failing channel never affects the operation that raised
// the event.
package notify

import (
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/ledger"
)

// Event is the envelope every channel delivers.
type Event struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// IntentionData is the wire form of an intention in notifications.
type IntentionData struct {
	IntentionID    string  `json:"intention_id"`
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Quantity       int64   `json:"quantity"`
	FilledQuantity int64   `json:"filled_quantity"`
	FillPrice      *string `json:"fill_price"`
	ActualCost     string  `json:"actual_cost"`
	ReleasedAmount string  `json:"released_amount"`
	Status         string  `json:"status"`
	StatusMessage  string  `json:"status_message,omitempty"`
	BatchID        string  `json:"batch_id,omitempty"`
}

// AllocationData is the wire form of an applied allocation.
type AllocationData struct {
	Delta        string `json:"delta"`
	CashDelta    string `json:"cash_delta"`
	AssignedCash string `json:"assigned_cash"`
}

// NewEvent builds the envelope, converting known payload types to their
// wire form.
func NewEvent(accountID, event string, payload any, now time.Time) Event {
	ev := Event{
		Event:     event,
		AccountID: accountID,
		Timestamp: now.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      payload,
	}
	switch p := payload.(type) {
	case *domain.Intention:
		ev.Data = intentionData(p)
	case ledger.AllocationResult:
		ev.Data = AllocationData{
			Delta:        domain.FormatAmount(p.Delta),
			CashDelta:    domain.FormatAmount(p.CashDelta),
			AssignedCash: domain.FormatAmount(p.AssignedCash),
		}
	}
	return ev
}

func intentionData(in *domain.Intention) IntentionData {
	data := IntentionData{
		IntentionID:    in.ID,
		AccountID:      in.AccountID,
		Symbol:         in.Symbol,
		Side:           string(in.Side),
		OrderType:      string(in.OrderType),
		Quantity:       in.Quantity,
		FilledQuantity: in.FilledQuantity,
		ActualCost:     domain.FormatAmount(in.ActualCost),
		ReleasedAmount: domain.FormatAmount(in.ReleasedAmount),
		Status:         string(in.Status),
		StatusMessage:  in.StatusMessage,
		BatchID:        in.BatchID,
	}
	if in.FillPrice != nil {
		s := in.FillPrice.String()
		data.FillPrice = &s
	}
	return data
}
