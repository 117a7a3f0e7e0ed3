package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StructuredExtractor asks a vision backend for the draft as JSON
type StructuredExtractor struct {
	backend StructuredBackend
	now     func() time.Time
}

// NewStructuredExtractor wraps a backend that answers in the draft's JSON shape
func NewStructuredExtractor(backend StructuredBackend) *StructuredExtractor {
	return &StructuredExtractor{backend: backend, now: time.Now}
}

// Extract converts the upload to PNG, queries the backend and validates the answer
func (s *StructuredExtractor) Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptDraft, error) {
	png, err := toPNG(imageData, contentType)
	if err != nil {
		return nil, extractionError(s.backend.Name(), fmt.Errorf("%w: %w", errUnreadableImage, err))
	}

	text, err := s.backend.GenerateJSON(ctx, png)
	if err != nil {
		return nil, extractionError(s.backend.Name(), err)
	}

	draft, err := decodeDraft(text, s.now())
	if err != nil {
		slog.Warn("Backend answered with an unusable draft",
			"backend", s.backend.Name(),
			"response_bytes", len(text),
			"error", err,
		)
		return nil, extractionError(s.backend.Name(), err)
	}
	return draft, nil
}

// Close closes the backend
func (s *StructuredExtractor) Close() error {
	return s.backend.Close()
}

// TextExtractor recognizes raw text and derives the draft with ParseText
type TextExtractor struct {
	recognizer TextRecognizer
	now        func() time.Time
}

// NewTextExtractor wraps a backend that only returns recognized text
func NewTextExtractor(recognizer TextRecognizer) *TextExtractor {
	return &TextExtractor{recognizer: recognizer, now: time.Now}
}

// Extract converts the upload to PNG, recognizes its text and parses it heuristically
func (t *TextExtractor) Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptDraft, error) {
	png, err := toPNG(imageData, contentType)
	if err != nil {
		return nil, extractionError(t.recognizer.Name(), fmt.Errorf("%w: %w", errUnreadableImage, err))
	}

	text, err := t.recognizer.RecognizeText(ctx, png)
	if err != nil {
		return nil, extractionError(t.recognizer.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, extractionError(t.recognizer.Name(), errors.New("no text recognized"))
	}

	return ParseText(text, t.now()), nil
}

// Close closes the recognizer
func (t *TextExtractor) Close() error {
	return t.recognizer.Close()
}
