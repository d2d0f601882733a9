package orders

import (
	"encoding/json"
	"time"
)

// CustomMeasurements is the optional made-to-measure payload attached to a
// line item.
type CustomMeasurements struct {
	Bust            float64 `json:"bust,omitempty"`
	Waist           float64 `json:"waist,omitempty"`
	Hips            float64 `json:"hips,omitempty"`
	Shoulders       float64 `json:"shoulders,omitempty"`
	SleeveLength    float64 `json:"sleeve_length,omitempty"`
	FullLength      float64 `json:"full_length,omitempty"`
	AdditionalNotes string  `json:"additional_notes,omitempty"`
}

// LineItem captures the unit price at order-creation time. It is never
// re-read from the live product afterwards.
type LineItem struct {
	ProductID     string              `json:"product_id"`
	Name          string              `json:"name"`
	Qty           int                 `json:"qty"`
	UnitCents     int64               `json:"unit_cents"`
	SelectedSize  string              `json:"selected_size,omitempty"`
	SelectedColor string              `json:"selected_color,omitempty"`
	Measurements  *CustomMeasurements `json:"measurements,omitempty"`
}

func (li LineItem) SubtotalCents() int64 { return li.UnitCents * int64(li.Qty) }

type CustomerInfo struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type ShippingAddress struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Items           []LineItem      `json:"items"`
	TotalCents      int64           `json:"total_cents"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"payment_status"`
	Customer        CustomerInfo    `json:"customer_info"`
	Shipping        ShippingAddress `json:"shipping_address"`
	// ProviderShipping is the address the provider captured during checkout,
	// kept verbatim when it differs from what the customer typed.
	ProviderShipping   json.RawMessage `json:"provider_shipping,omitempty"`
	ProviderCustomerID string          `json:"provider_customer_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
}
