// Package webhook drives order and stock transitions from signed provider
// callbacks. Deliveries may arrive duplicated, out of order, or not at all;
// the pending→paid conditional update in the order store is the single
// synchronization point that keeps the inventory commit exactly-once.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/payment"
	"github.com/noor-atelier/backend/internal/stock"
)

// ErrCritical wraps failures in the status-transition/persistence path. The
// HTTP layer answers non-2xx for these so the provider redelivers; the
// transition's idempotency makes the retry safe.
var ErrCritical = errors.New("webhook: critical processing failure")

type OrderStore interface {
	MarkPaidBySession(ctx context.Context, sessionID, intentID, providerCustomer string, providerShipping []byte) (*orders.Order, bool, error)
	MarkPaidByIntent(ctx context.Context, intentID string) (*orders.Order, bool, error)
	MarkFailedBySession(ctx context.Context, sessionID string) (bool, error)
	MarkFailedByIntent(ctx context.Context, intentID string) (bool, error)
}

type StockLedger interface {
	Decrement(ctx context.Context, productID, size string, qty int) error
}

// Notifier dispatches confirmation messages. Best effort only: it has no
// error return on purpose, failures must never bubble back into this path.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *orders.Order)
}

// Deduper short-circuits redelivered event ids. Best effort; a miss only
// costs a no-op pass through the conditional update.
type Deduper interface {
	Seen(ctx context.Context, id string) bool
	Mark(ctx context.Context, id string)
}

type Processor struct {
	Orders OrderStore
	Ledger StockLedger
	Notify Notifier
	Dedup  Deduper
	Secret string
	Log    *zap.Logger
}

// Handle processes one raw webhook delivery.
//
// Return values: payment.ErrSignatureInvalid means reject with a client
// error and change nothing; ErrCritical means answer non-2xx so the provider
// retries; nil means acknowledge, including for event types this system
// intentionally ignores.
func (p *Processor) Handle(ctx context.Context, body []byte, sigHeader string) error {
	ev, err := payment.ConstructEvent(body, sigHeader, p.Secret)
	if err != nil {
		return err
	}

	if p.Dedup != nil && ev.ID != "" && p.Dedup.Seen(ctx, ev.ID) {
		p.Log.Debug("duplicate event skipped", zap.String("event_id", ev.ID))
		return nil
	}

	if err := p.dispatch(ctx, ev); err != nil {
		return err
	}

	if p.Dedup != nil && ev.ID != "" {
		p.Dedup.Mark(ctx, ev.ID)
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, ev payment.Event) error {
	switch ev.Type {
	case payment.EventSessionCompleted, payment.EventAsyncPaymentSucceeded:
		sess, err := ev.Session()
		if err != nil {
			p.Log.Warn("undecodable session object", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		return p.confirmBySession(ctx, sess)

	case payment.EventAsyncPaymentFailed:
		sess, err := ev.Session()
		if err != nil {
			p.Log.Warn("undecodable session object", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		applied, err := p.Orders.MarkFailedBySession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("%w: mark failed: %v", ErrCritical, err)
		}
		if !applied {
			p.Log.Info("failed event on non-pending order ignored", zap.String("session_id", sess.ID))
		}
		return nil

	case payment.EventIntentSucceeded:
		pi, err := ev.PaymentIntent()
		if err != nil {
			p.Log.Warn("undecodable payment intent", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		return p.confirmByIntent(ctx, pi.ID)

	case payment.EventIntentFailed:
		pi, err := ev.PaymentIntent()
		if err != nil {
			p.Log.Warn("undecodable payment intent", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		applied, err := p.Orders.MarkFailedByIntent(ctx, pi.ID)
		if err != nil {
			return fmt.Errorf("%w: mark failed: %v", ErrCritical, err)
		}
		if !applied {
			p.Log.Info("failed event on non-pending order ignored", zap.String("payment_intent", pi.ID))
		}
		return nil

	default:
		// forward compatibility: unknown types are acknowledged untouched
		p.Log.Info("unhandled event type", zap.String("type", ev.Type))
		return nil
	}
}

// ConfirmSession applies a paid checkout session to the order store. Shared
// by the webhook path and the payment-success return endpoint, so both funnel
// through the same single-winner transition.
func (p *Processor) ConfirmSession(ctx context.Context, sess payment.Session) error {
	return p.confirmBySession(ctx, sess)
}

func (p *Processor) confirmBySession(ctx context.Context, sess payment.Session) error {
	order, won, err := p.Orders.MarkPaidBySession(ctx, sess.ID, sess.PaymentIntent, sess.Customer, sess.ShippingDetails)
	if errors.Is(err, orders.ErrNotFound) {
		// session with no matching order: reconciliation-sweep territory, a
		// provider retry will not help
		p.Log.Error("no order for session", zap.String("session_id", sess.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: mark paid: %v", ErrCritical, err)
	}
	p.afterConfirm(ctx, order, won, "session "+sess.ID)
	return nil
}

func (p *Processor) confirmByIntent(ctx context.Context, intentID string) error {
	order, won, err := p.Orders.MarkPaidByIntent(ctx, intentID)
	if errors.Is(err, orders.ErrNotFound) {
		// the session-completed event may still be in flight carrying the
		// intent id; that path will settle the order
		p.Log.Warn("no order for payment intent", zap.String("payment_intent", intentID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: mark paid: %v", ErrCritical, err)
	}
	p.afterConfirm(ctx, order, won, "intent "+intentID)
	return nil
}

// afterConfirm runs the post-transition side effects. Only the caller that
// actually won pending→paid commits inventory and notifies; duplicates and
// race losers stop here.
func (p *Processor) afterConfirm(ctx context.Context, order *orders.Order, won bool, source string) {
	if !won {
		if order.Status == orders.StatusPaid {
			p.Log.Info("duplicate confirmation ignored",
				zap.String("order_id", order.ID), zap.String("source", source))
		} else {
			p.Log.Warn("confirmation for order in terminal state ignored",
				zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
		}
		return
	}

	p.commitInventory(ctx, order)
	if p.Notify != nil {
		p.Notify.OrderConfirmed(ctx, order)
	}
	p.Log.Info("order paid", zap.String("order_id", order.ID), zap.String("source", source))
}

// commitInventory decrements stock per line item, best effort. A size miss or
// shortfall on one item never aborts the rest: the order is already paid, and
// refusing to ship it is worse than an inventory discrepancy. Discrepancies
// are logged for operator follow-up.
func (p *Processor) commitInventory(ctx context.Context, order *orders.Order) {
	for _, it := range order.Items {
		if it.SelectedSize == "" || it.Qty <= 0 || it.ProductID == "" {
			p.Log.Info("skipping item without size selection",
				zap.String("order_id", order.ID), zap.String("product_id", it.ProductID))
			continue
		}
		err := p.Ledger.Decrement(ctx, it.ProductID, it.SelectedSize, it.Qty)
		switch {
		case err == nil:
		case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrSizeNotFound):
			p.Log.Warn("inventory commit skipped item",
				zap.String("order_id", order.ID),
				zap.String("product_id", it.ProductID),
				zap.String("size", it.SelectedSize),
				zap.Int("qty", it.Qty),
				zap.Error(err))
		default:
			p.Log.Error("inventory commit error",
				zap.String("order_id", order.ID),
				zap.String("product_id", it.ProductID),
				zap.Error(err))
		}
	}
}
