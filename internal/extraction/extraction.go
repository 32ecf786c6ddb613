package extraction

import (
	"context"
	"fmt"
)

// ReceiptItem is one purchased line on a receipt. TranslatedName equals
// OriginalName when the receipt is already in English.
type ReceiptItem struct {
	OriginalName   string  `json:"originalName"`
	TranslatedName string  `json:"translatedName"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	Total          float64 `json:"total"`
}

// ReceiptData contains the structured result extracted from one receipt image.
// The JSON field names are the wire schema the remote service is constrained to.
type ReceiptData struct {
	MerchantName     string        `json:"merchantName"`
	Date             string        `json:"date"` // YYYY-MM-DD
	Currency         string        `json:"currency"`
	TotalAmount      float64       `json:"totalAmount"`
	OriginalLanguage string        `json:"originalLanguage"`
	Items            []ReceiptItem `json:"items"`
}

// Extractor defines the interface for receipt extraction operations
type Extractor interface {
	// Extract analyzes a receipt image/PDF and returns its structured data
	Extract(ctx context.Context, imageData []byte, mimeType string) (*ReceiptData, error)
	// Close closes the extractor and releases resources
	Close() error
}

// Error is a failed extraction exchange: the remote call errored, returned no
// payload, or returned a payload that does not conform to the ReceiptData
// schema. It is terminal for the entry it belongs to; recovery is an explicit
// retry, never automatic.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}
