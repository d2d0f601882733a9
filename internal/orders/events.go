package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ConfirmedItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitCents int64  `json:"unit_cents"`
	Size      string `json:"size,omitempty"`
}

type OrderConfirmedPayload struct {
	OrderID    string          `json:"order_id"`
	Email      string          `json:"email"`
	Name       string          `json:"name,omitempty"`
	Items      []ConfirmedItem `json:"items"`
	TotalCents int64           `json:"total_cents"`
	Currency   string          `json:"currency"`
	PaidAt     time.Time       `json:"paid_at"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
}
