package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// extractionPrompt instructs the service to transcribe, identify the
// merchant/date/currency, normalize the date, enumerate line items, and
// translate non-English text while preserving the originals.
const extractionPrompt = `Analyze this receipt image.
1. Perform OCR to extract all visible text.
2. Identify the merchant name, date, and currency.
3. The date MUST be formatted as YYYY-MM-DD (e.g., 2024-03-15). If only month and year are found, use the first day of the month (e.g., 2024-03-01).
4. Extract a list of items including their quantity, individual price, and line total.
5. Detect the original language. If it is NOT English, translate the merchant name and all item names into English. Keep the original strings alongside the translations; when no translation is needed the translated name equals the original.
6. Return the result in the specified JSON format.`

// receiptSchema constrains the response to the ReceiptData shape so parsing
// is deterministic. Any deviation is a contract violation, not a best-effort
// parse.
var receiptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"merchantName": {Type: genai.TypeString},
		"date":         {Type: genai.TypeString, Description: "Date in YYYY-MM-DD format"},
		"currency":     {Type: genai.TypeString},
		"totalAmount":  {Type: genai.TypeNumber},
		"originalLanguage": {
			Type:        genai.TypeString,
			Description: "Human-readable name of the detected source language",
		},
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"originalName":   {Type: genai.TypeString},
					"translatedName": {Type: genai.TypeString},
					"quantity":       {Type: genai.TypeNumber},
					"price":          {Type: genai.TypeNumber},
					"total":          {Type: genai.TypeNumber},
				},
				Required: []string{"originalName", "translatedName", "quantity", "price", "total"},
			},
		},
	},
	Required: []string{"merchantName", "date", "currency", "totalAmount", "items", "originalLanguage"},
}

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	model.GenerationConfig.ResponseSchema = receiptSchema

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Extract runs one request/response exchange against Gemini and returns the
// structured receipt, or an *Error when the call fails or the payload does
// not conform to the schema. There is no retry and no partial result.
func (g *Gemini) Extract(ctx context.Context, imageData []byte, mimeType string) (*ReceiptData, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	pngData, err := prepareImage(imageData, mimeType)
	if err != nil {
		return nil, &Error{Reason: "preparing image", Err: err}
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(extractionPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &Error{Reason: "calling gemini", Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Reason: "no payload in gemini response"}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := decodeReceiptData(responseText.String())
	if err != nil {
		return nil, &Error{Reason: "decoding receipt payload", Err: err}
	}

	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
