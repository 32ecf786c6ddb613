package receipt

import "github.com/tonyw/receipt-ocr/internal/extraction"

// Status is the processing state of an uploaded receipt
type Status string

const (
	// StatusProcessing means an extraction is in flight for the entry
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means extraction succeeded and Data is populated
	StatusCompleted Status = "COMPLETED"
	// StatusError means extraction failed and Error holds the message
	StatusError Status = "ERROR"
)

// Entry is one uploaded receipt image plus its derived state, tracked through
// its processing lifecycle. An entry is created in StatusProcessing and moves
// to StatusCompleted or StatusError exactly once per extraction attempt; an
// explicit retry starts a new attempt.
type Entry struct {
	ID     string                  `json:"id"`
	Status Status                  `json:"status"`
	Data   *extraction.ReceiptData `json:"data,omitempty"`
	Error  string                  `json:"error,omitempty"`

	// PreviewURL resolves to the original uploaded image for the session
	PreviewURL string `json:"preview_url"`

	SelectedCategory    string `json:"selected_category"`
	SelectedFromAccount string `json:"selected_from_account"`
	SelectedPaidBy      string `json:"selected_paid_by"`

	// IsConfirmed freezes the classification fields until explicitly cleared
	IsConfirmed bool `json:"is_confirmed"`
}

// Upload is one file handed to Enqueue
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Snapshot is a copy of the manager's observable state for renderers
type Snapshot struct {
	Entries  []Entry `json:"entries"`
	ActiveID string  `json:"active_id"`
}
