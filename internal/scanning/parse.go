package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

const isoDate = "2006-01-02"

// draftSchema is the shape a structured backend must answer with
const draftSchema = `{
  "type": "object",
  "required": ["total_amount", "items"],
  "properties": {
    "total_amount": {"type": "number", "minimum": 0},
    "date": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "amount"],
        "properties": {
          "description": {"type": "string"},
          "amount": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

var compiledDraftSchema = jsonschema.MustCompileString("receipt_draft.json", draftSchema)

type draftPayload struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	Date        *string         `json:"date"`
	Description *string         `json:"description"`
	Items       []LineItem      `json:"items"`
}

// extractJSONObject strips markdown fences and anything outside the outermost object
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// decodeDraft validates a structured backend answer and converts it into a draft
func decodeDraft(text string, today time.Time) (*ReceiptDraft, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := compiledDraftSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("json does not match receipt shape: %w", err)
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding receipt fields: %w", err)
	}

	draft := &ReceiptDraft{
		TotalAmount: payload.TotalAmount,
		Date:        today.Format(isoDate),
		Items:       make([]LineItem, 0, len(payload.Items)),
	}
	if payload.Description != nil {
		draft.Description = strings.TrimSpace(*payload.Description)
	}
	if payload.Date != nil {
		if d, ok := NormalizeDate(*payload.Date); ok {
			draft.Date = d
		}
	}
	for _, item := range payload.Items {
		draft.Items = append(draft.Items, LineItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      item.Amount,
		})
	}
	return draft, nil
}

var dateLayouts = []string{
	isoDate,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
}

// NormalizeDate converts the date formats receipts and models commonly use to YYYY-MM-DD
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format(isoDate), true
		}
	}
	return "", false
}
