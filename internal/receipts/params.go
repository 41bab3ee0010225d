package receipts

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptParams is the exact snapshot a receipt document is rendered from.
// It is persisted next to the rendered content and must survive a JSON
// round trip field for field, amounts and timestamps included.
type ReceiptParams struct {
	ReceiptNumber int64           `json:"receipt_number"`
	OrderNumber   string          `json:"order_number"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Buyer         ReceiptBuyer    `json:"buyer"`
	Lines         []ReceiptLine   `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	LookupURL     string          `json:"lookup_url"`
}

// ReceiptBuyer snapshots the buyer contact block.
type ReceiptBuyer struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Street     string `json:"street"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

// ReceiptLine is one grouped order line.
type ReceiptLine struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int64           `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}
