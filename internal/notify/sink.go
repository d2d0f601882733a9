// Package notify publishes best-effort customer notifications. Nothing here
// may ever roll back payment or inventory state.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/noor-atelier/backend/internal/kafka"
	"github.com/noor-atelier/backend/internal/orders"
)

type Sink struct {
	Producer *kafkax.Producer // order.confirmed topic
	Service  string
	Log      *zap.Logger
}

// OrderConfirmed publishes a confirmation message for the notifier worker.
// Fire-and-forget: marshal or publish trouble is logged, never returned.
func (s *Sink) OrderConfirmed(ctx context.Context, o *orders.Order) {
	items := make([]orders.ConfirmedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orders.ConfirmedItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Qty:       it.Qty,
			UnitCents: it.UnitCents,
			Size:      it.SelectedSize,
		})
	}
	paidAt := time.Now().UTC()
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	payload, err := json.Marshal(orders.OrderConfirmedPayload{
		OrderID:    o.ID,
		Email:      o.Customer.Email,
		Name:       o.Customer.FirstName,
		Items:      items,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		PaidAt:     paidAt,
	})
	if err != nil {
		s.Log.Error("confirmation payload marshal", zap.String("order_id", o.ID), zap.Error(err))
		return
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderConfirmed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: o.ID,
		Payload:       payload,
	}
	s.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderConfirmed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
