package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrExtractionFailed is wrapped by every error an Extractor returns.
// Callers treat it as recoverable and fall back to manual entry.
var ErrExtractionFailed = errors.New("extraction failed")

// errUnreadableImage marks failures caused by the upload rather than the backend
var errUnreadableImage = errors.New("unreadable image")

// LineItem is a single priced line on a receipt
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReceiptDraft is the best-effort guess produced by an Extractor.
// It is never persisted as-is; the review form owns it after extraction.
type ReceiptDraft struct {
	Description string          `json:"description"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Date        string          `json:"date"`
	Items       []LineItem      `json:"items"`
	ImageRef    string          `json:"image_ref,omitempty"`
}

// Extractor turns an uploaded receipt into a draft
type Extractor interface {
	// Extract analyzes a receipt image/PDF. Every returned error wraps ErrExtractionFailed.
	Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptDraft, error)
	// Close releases backend resources
	Close() error
}

// StructuredBackend returns the model's JSON answer for a PNG receipt image
type StructuredBackend interface {
	Name() string
	GenerateJSON(ctx context.Context, png []byte) (string, error)
	Close() error
}

// TextRecognizer returns the raw text recognized on a PNG receipt image
type TextRecognizer interface {
	Name() string
	RecognizeText(ctx context.Context, png []byte) (string, error)
	Close() error
}

func extractionError(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExtractionFailed, backend, err)
}
