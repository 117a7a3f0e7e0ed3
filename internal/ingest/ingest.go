// Package ingest drives one receipt from file selection through extraction and review to a saved record
package ingest

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/scanning"
)

// ExtractionFailedNotice is shown when the review starts from an empty template
const ExtractionFailedNotice = "Automatic extraction failed; please enter the receipt details manually."

// StorageFailedNotice is shown when the original could not be kept
const StorageFailedNotice = "The original file could not be stored; the receipt will be saved without an image."

// Record is a finalized receipt ready to be persisted
type Record struct {
	GroupID     string
	Description string
	TotalAmount decimal.Decimal
	Date        string
	UploadedBy  string
	PaidBy      string
	ImageURL    string
	Items       []scanning.LineItem
}

// Persister stores finalized receipts. The session picks the backing store; nil is anonymous use.
type Persister interface {
	SaveReceipt(ctx context.Context, session *auth.Session, rec Record) (string, error)
}

// ObjectStore keeps uploaded originals and hands out their public URLs
type ObjectStore interface {
	Save(filename string, data []byte) (string, error)
	URL(path string) string
}

// AcceptedContentType reports whether a MIME type may be ingested: any image/*, or application/pdf
func AcceptedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf"
}

// objectName builds a unique stored name that keeps the upload's extension
func objectName(id, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return id + ext
}
