// Package checkout turns a cart into a provider-hosted payment session plus a
// pending local order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/catalog"
	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/payment"
)

var (
	// ErrInvalidItem: a cart line references a product that no longer exists
	// or carries a non-positive quantity.
	ErrInvalidItem = errors.New("checkout: invalid cart item")

	// ErrInconsistentState: the provider session was created but the local
	// order write failed. The session has no matching order until a
	// reconciliation sweep picks it up.
	ErrInconsistentState = errors.New("checkout: provider session without local order")
)

type ProductCatalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

type OrderWriter interface {
	Create(ctx context.Context, o *orders.Order) error
}

type SessionCreator interface {
	CreateSession(ctx context.Context, p payment.SessionParams) (*payment.Session, error)
}

type CartItem struct {
	ProductID     string                     `json:"product_id"`
	Qty           int                        `json:"qty"`
	SelectedSize  string                     `json:"selected_size,omitempty"`
	SelectedColor string                     `json:"selected_color,omitempty"`
	Measurements  *orders.CustomMeasurements `json:"measurements,omitempty"`
}

type Request struct {
	Items         []CartItem             `json:"items"`
	Customer      orders.CustomerInfo    `json:"customer_info"`
	Shipping      orders.ShippingAddress `json:"shipping_address"`
	ShippingCents int64                  `json:"shipping_cents"`
	TaxCents      int64                  `json:"tax_cents"`
	Currency      string                 `json:"currency"`
	SuccessURL    string                 `json:"success_url"`
	CancelURL     string                 `json:"cancel_url"`
}

type Result struct {
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"url"`
}

type Service struct {
	Catalog  ProductCatalog
	Orders   OrderWriter
	Provider SessionCreator
	Log      *zap.Logger
}

// CreateSession recomputes every unit price from the catalog (client-supplied
// prices are never trusted), opens the provider session, and persists the
// pending order keyed to it. Stock is not reserved here; the decrement
// happens only once payment is confirmed, so abandoned carts never hold
// inventory.
func (s *Service) CreateSession(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrInvalidItem)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: missing currency", ErrInvalidItem)
	}
	for _, it := range req.Items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: qty %d for product %s", ErrInvalidItem, it.Qty, it.ProductID)
		}
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	lineItems := make([]payment.LineItem, 0, len(req.Items)+2)
	orderItems := make([]orders.LineItem, 0, len(req.Items))
	var itemsTotal int64
	for _, it := range req.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product not found: %s", ErrInvalidItem, it.ProductID)
		}

		desc := ""
		if it.SelectedSize != "" {
			desc = "Size: " + it.SelectedSize
		}
		image := ""
		if len(p.Images) > 0 {
			image = p.Images[0]
		}
		lineItems = append(lineItems, payment.LineItem{
			Name:        p.Name,
			Description: desc,
			UnitCents:   p.PriceCents,
			Quantity:    it.Qty,
			Currency:    req.Currency,
			ImageURL:    image,
			Metadata: map[string]string{
				"product_id":     p.ID,
				"selected_size":  it.SelectedSize,
				"selected_color": it.SelectedColor,
			},
		})
		orderItems = append(orderItems, orders.LineItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Qty:           it.Qty,
			UnitCents:     p.PriceCents,
			SelectedSize:  it.SelectedSize,
			SelectedColor: it.SelectedColor,
			Measurements:  it.Measurements,
		})
		itemsTotal += p.PriceCents * int64(it.Qty)
	}

	if req.ShippingCents > 0 {
		lineItems = append(lineItems, payment.LineItem{
			Name: "Shipping", UnitCents: req.ShippingCents, Quantity: 1, Currency: req.Currency,
		})
	}
	if req.TaxCents > 0 {
		lineItems = append(lineItems, payment.LineItem{
			Name: "Tax", UnitCents: req.TaxCents, Quantity: 1, Currency: req.Currency,
		})
	}
	total := itemsTotal + req.ShippingCents + req.TaxCents

	sess, err := s.Provider.CreateSession(ctx, payment.SessionParams{
		LineItems:     lineItems,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.Customer.Email,
		Metadata: map[string]string{
			"item_count":  strconv.Itoa(len(orderItems)),
			"total_cents": strconv.FormatInt(total, 10),
		},
	})
	if err != nil {
		// no local state was written; caller may retry
		return nil, err
	}

	order := &orders.Order{
		SessionID:  sess.ID,
		Items:      orderItems,
		TotalCents: total,
		Currency:   req.Currency,
		Customer:   req.Customer,
		Shipping:   req.Shipping,
	}
	if err := s.Orders.Create(ctx, order); err != nil {
		s.Log.Error("order persist failed after session creation; reconciliation needed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: session %s: %v", ErrInconsistentState, sess.ID, err)
	}

	s.Log.Info("checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("order_id", order.ID),
		zap.Int64("total_cents", total))

	return &Result{SessionID: sess.ID, OrderID: order.ID, RedirectURL: sess.URL}, nil
}
