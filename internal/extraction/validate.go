package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// receiptPayload shadows ReceiptData with pointer fields so that a missing
// required field is distinguishable from a zero value. originalLanguage is
// best-effort and may be absent.
type receiptPayload struct {
	MerchantName     *string        `json:"merchantName"`
	Date             *string        `json:"date"`
	Currency         *string        `json:"currency"`
	TotalAmount      *float64       `json:"totalAmount"`
	OriginalLanguage *string        `json:"originalLanguage"`
	Items            *[]itemPayload `json:"items"`
}

type itemPayload struct {
	OriginalName   *string  `json:"originalName"`
	TranslatedName *string  `json:"translatedName"`
	Quantity       *float64 `json:"quantity"`
	Price          *float64 `json:"price"`
	Total          *float64 `json:"total"`
}

// decodeReceiptData parses and validates the service response. A payload with
// a missing required field or a wrong type is a contract violation and fails
// outright.
func decodeReceiptData(text string) (*ReceiptData, error) {
	// Strip markdown fences some models wrap JSON in despite instructions
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	text = text[startIdx : endIdx+1]

	var payload receiptPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	switch {
	case payload.MerchantName == nil:
		return nil, fmt.Errorf("missing required field: merchantName")
	case payload.Date == nil:
		return nil, fmt.Errorf("missing required field: date")
	case payload.Currency == nil:
		return nil, fmt.Errorf("missing required field: currency")
	case payload.TotalAmount == nil:
		return nil, fmt.Errorf("missing required field: totalAmount")
	case payload.Items == nil:
		return nil, fmt.Errorf("missing required field: items")
	}

	data := &ReceiptData{
		MerchantName: strings.TrimSpace(*payload.MerchantName),
		Date:         normalizeDate(*payload.Date),
		Currency:     strings.TrimSpace(*payload.Currency),
		TotalAmount:  *payload.TotalAmount,
		Items:        make([]ReceiptItem, 0, len(*payload.Items)),
	}
	if payload.OriginalLanguage != nil {
		data.OriginalLanguage = strings.TrimSpace(*payload.OriginalLanguage)
	}

	for i, item := range *payload.Items {
		if item.OriginalName == nil || item.TranslatedName == nil ||
			item.Quantity == nil || item.Price == nil || item.Total == nil {
			return nil, fmt.Errorf("items[%d]: missing required field", i)
		}
		data.Items = append(data.Items, ReceiptItem{
			OriginalName:   *item.OriginalName,
			TranslatedName: *item.TranslatedName,
			Quantity:       *item.Quantity,
			Price:          *item.Price,
			Total:          *item.Total,
		})
	}

	return data, nil
}

// normalizeDate reformats dates in known non-ISO layouts to YYYY-MM-DD. An
// unrecognized date string passes through unchanged; downstream consumers
// already define behavior for dates that do not split into year and month.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if _, err := time.Parse("2006-01-02", date); err == nil {
		return date
	}

	formats := []string{
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"2006-01", // month/year only: first of the month
	}
	for _, format := range formats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return date
}
