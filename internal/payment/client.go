// Package payment talks to the hosted-checkout payment provider and verifies
// its signed webhook events.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProviderError is any non-2xx answer from the provider API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: status %d: %s", e.StatusCode, e.Message)
}

// LineItem is one display row on the provider-hosted checkout page. Shipping
// and tax ride along as synthetic line items.
type LineItem struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	UnitCents   int64             `json:"unit_amount"`
	Quantity    int               `json:"quantity"`
	Currency    string            `json:"currency"`
	ImageURL    string            `json:"image_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type SessionParams struct {
	LineItems     []LineItem        `json:"line_items"`
	Mode          string            `json:"mode"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Session mirrors the provider's checkout session object. PaymentStatus is
// the provider's view ("paid" once settled), distinct from our order status.
type Session struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	PaymentIntent   string          `json:"payment_intent,omitempty"`
	PaymentStatus   string          `json:"payment_status,omitempty"`
	AmountTotal     int64           `json:"amount_total,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Customer        string          `json:"customer,omitempty"`
	ShippingDetails json.RawMessage `json:"shipping_details,omitempty"`
}

type PaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payment provider: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("payment provider: decode response: %w", err)
		}
	}
	return nil
}

// CreateSession opens a hosted checkout session and returns its id plus the
// redirect URL the client should be sent to.
func (c *Client) CreateSession(ctx context.Context, p SessionParams) (*Session, error) {
	if p.Mode == "" {
		p.Mode = "payment"
	}
	var s Session
	if err := c.do(ctx, http.MethodPost, "/checkout/sessions", p, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/checkout/sessions/"+id, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ExpireSession invalidates a still-open session so an abandoned or cancelled
// checkout cannot be completed later.
func (c *Client) ExpireSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/checkout/sessions/"+id+"/expire", nil, nil)
}
