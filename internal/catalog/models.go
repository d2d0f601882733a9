package catalog

import "time"

// SizeStock is one size slot on a product. The sum of all slots is meant to
// equal the product's aggregate Quantity; the stock ledger keeps both in step.
type SizeStock struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// Variant is a color option independently referenced by order line items.
type Variant struct {
	Label    string `json:"label"`
	Code     string `json:"code"`
	ImageURL string `json:"image_url,omitempty"`
}

type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	NameArabic  string      `json:"name_arabic,omitempty"`
	Description string      `json:"description,omitempty"`
	PriceCents  int64       `json:"price_cents"`
	Images      []string    `json:"images,omitempty"`
	Sizes       []SizeStock `json:"sizes"`
	Quantity    int         `json:"quantity"`
	Colors      []Variant   `json:"colors,omitempty"`
	CategoryID  string      `json:"category_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Category struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NameArabic string    `json:"name_arabic,omitempty"`
	ProductIDs []string  `json:"product_ids"`
	CreatedAt  time.Time `json:"created_at"`
}
