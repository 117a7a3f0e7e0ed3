package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/review"
)

// Stage is a cycle's position in the upload-to-save flow
type Stage string

const (
	StageIdle         Stage = "idle"
	StageFileSelected Stage = "file-selected"
	StageExtracting   Stage = "extracting"
	StageReviewing    Stage = "reviewing"
	StageSaved        Stage = "saved"
	StageCancelled    Stage = "cancelled"
)

type upload struct {
	name        string
	contentType string
	data        []byte
}

// Cycle is one upload-to-save attempt. Its methods are safe for concurrent use.
type Cycle struct {
	id      string
	manager *Manager

	mu        sync.Mutex
	stage     Stage
	file      *upload
	session   *auth.Session
	groupID   string
	form      *review.Form
	imageRef  string
	notices   []string
	receiptID string
	touched   time.Time
}

// ID returns the cycle's identifier
func (c *Cycle) ID() string {
	return c.id
}

// SelectFile offers a file for ingestion. Anything other than image/* or application/pdf is
// refused with a ValidationError and leaves no file selected.
func (c *Cycle) SelectFile(name, contentType string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != StageIdle && c.stage != StageFileSelected {
		return fmt.Errorf("%w: cannot select a file while %s", ErrInvalidState, c.stage)
	}
	c.touch()
	c.stage = StageFileSelected
	c.notices = nil

	if !AcceptedContentType(contentType) {
		c.file = nil
		c.manager.metrics.upload(false)
		slog.Warn("Rejected upload", "cycle", c.id, "filename", name, "content_type", contentType)
		return validationError(nil, "unsupported file type %q: upload an image or a PDF", contentType)
	}
	if len(data) == 0 {
		c.file = nil
		c.manager.metrics.upload(false)
		return validationError(nil, "the selected file is empty")
	}

	c.file = &upload{name: name, contentType: contentType, data: data}
	c.manager.metrics.upload(true)
	return nil
}

// Process stores the original (signed-in users only) and runs extraction, ending in review.
// Extraction and storage failures do not fail Process; they leave a notice instead.
func (c *Cycle) Process(ctx context.Context, session *auth.Session, groupID string) error {
	c.mu.Lock()
	switch {
	case c.stage == StageExtracting:
		c.mu.Unlock()
		return ErrBusy
	case c.stage != StageFileSelected:
		stage := c.stage
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot process while %s", ErrInvalidState, stage)
	case c.file == nil:
		c.mu.Unlock()
		return validationError(nil, "select a receipt image or PDF first")
	}
	file := c.file
	c.stage = StageExtracting
	c.session = session
	c.groupID = groupID
	c.touch()
	c.mu.Unlock()

	m := c.manager
	var imageRef string
	var notices []string

	// The upload is awaited before extraction so the reference is known before review starts.
	if session != nil {
		ref, err := m.storeOriginal(file)
		if err != nil {
			m.metrics.storageFailure()
			slog.Error("Failed to store original upload",
				"cycle", c.id,
				"filename", file.name,
				"user", session.UserID,
				"error", err,
			)
			notices = append(notices, StorageFailedNotice)
		} else {
			imageRef = ref
		}
	}

	start := time.Now()
	draft, err := m.extractor.Extract(ctx, file.data, file.contentType)
	m.metrics.extraction(err == nil, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("Extraction failed, falling back to manual entry",
			"cycle", c.id,
			"filename", file.name,
			"content_type", file.contentType,
			"file_size", len(file.data),
			"error", err,
		)
		draft = review.Template(m.now())
		notices = append(notices, ExtractionFailedNotice)
	}
	draft.ImageRef = imageRef

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != StageExtracting {
		// cancelled while the backend was running
		return fmt.Errorf("%w: upload was %s during processing", ErrInvalidState, c.stage)
	}
	c.form = review.NewForm(draft)
	c.imageRef = imageRef
	c.notices = notices
	c.stage = StageReviewing
	c.touch()
	return nil
}

// SetDescription edits the receipt description under review
func (c *Cycle) SetDescription(description string) error {
	return c.edit(func(f *review.Form) error { return f.SetDescription(description) })
}

// SetDate edits the receipt date under review
func (c *Cycle) SetDate(date string) error {
	return c.edit(func(f *review.Form) error { return f.SetDate(date) })
}

// AddItem appends a blank item to the review
func (c *Cycle) AddItem() error {
	return c.edit(func(f *review.Form) error { return f.AddItem() })
}

// RemoveItem removes an item from the review
func (c *Cycle) RemoveItem(index int) error {
	return c.edit(func(f *review.Form) error { return f.RemoveItem(index) })
}

// UpdateItem edits one field of one item under review
func (c *Cycle) UpdateItem(index int, field, value string) error {
	return c.edit(func(f *review.Form) error {
		err := f.UpdateItem(index, field, value)
		if errors.Is(err, review.ErrUnknownField) {
			return validationError(err, "%s", err.Error())
		}
		return err
	})
}

func (c *Cycle) edit(fn func(*review.Form) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != StageReviewing {
		return fmt.Errorf("%w: nothing to edit while %s", ErrInvalidState, c.stage)
	}
	c.touch()
	return fn(c.form)
}

// Submit validates the review and persists it. On success the cycle is saved and forgotten;
// on a persistence failure it stays in review so the caller can submit again.
func (c *Cycle) Submit(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != StageReviewing {
		return "", fmt.Errorf("%w: cannot submit while %s", ErrInvalidState, c.stage)
	}
	c.touch()

	m := c.manager
	var receiptID string
	err := c.form.Submit(func(f review.Finalized) error {
		user := auth.UserID(c.session)
		id, err := m.persister.SaveReceipt(ctx, c.session, Record{
			GroupID:     c.groupID,
			Description: f.Description,
			TotalAmount: f.TotalAmount,
			Date:        f.Date,
			UploadedBy:  user,
			PaidBy:      user,
			ImageURL:    f.ImageRef,
			Items:       f.Items,
		})
		if err != nil {
			return err
		}
		receiptID = id
		return nil
	})

	switch {
	case errors.Is(err, review.ErrDescriptionRequired),
		errors.Is(err, review.ErrDateRequired),
		errors.Is(err, review.ErrInvalidDate):
		return "", validationError(err, "%s", err.Error())
	case err != nil:
		m.metrics.save(false)
		slog.Error("Failed to save receipt", "cycle", c.id, "group_id", c.groupID, "error", err)
		return "", fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	m.metrics.save(true)
	slog.Info("Saved receipt", "cycle", c.id, "receipt_id", receiptID, "group_id", c.groupID)

	c.stage = StageSaved
	c.receiptID = receiptID
	c.reset()
	m.forget(c.id)
	return receiptID, nil
}

// Cancel abandons the cycle, dropping the file, the draft and the image reference.
// An original already written to object storage is left in place.
func (c *Cycle) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

// cancelIfIdle cancels the cycle when it was last touched before cutoff and is not extracting
func (c *Cycle) cancelIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage == StageExtracting || !c.touched.Before(cutoff) {
		return false
	}
	return c.cancelLocked() == nil
}

func (c *Cycle) cancelLocked() error {
	switch c.stage {
	case StageSaved, StageCancelled:
		return fmt.Errorf("%w: upload is already %s", ErrInvalidState, c.stage)
	case StageReviewing:
		_ = c.form.Cancel()
	}

	if c.imageRef != "" {
		slog.Info("Upload cancelled after storing original", "cycle", c.id, "image_ref", c.imageRef)
	}
	c.stage = StageCancelled
	c.reset()
	c.manager.forget(c.id)
	return nil
}

func (c *Cycle) reset() {
	c.file = nil
	c.form = nil
	c.imageRef = ""
	c.notices = nil
}

func (c *Cycle) touch() {
	c.touched = c.manager.now()
}

// View is a snapshot of a cycle for rendering
type View struct {
	ID        string       `json:"id"`
	Stage     Stage        `json:"stage"`
	GroupID   string       `json:"group_id,omitempty"`
	FileName  string       `json:"file_name,omitempty"`
	Notices   []string     `json:"notices,omitempty"`
	Review    *review.View `json:"review,omitempty"`
	ReceiptID string       `json:"receipt_id,omitempty"`
}

// View returns the cycle's current snapshot
func (c *Cycle) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		ID:        c.id,
		Stage:     c.stage,
		GroupID:   c.groupID,
		ReceiptID: c.receiptID,
	}
	if c.file != nil {
		v.FileName = c.file.name
	}
	if len(c.notices) > 0 {
		v.Notices = append([]string(nil), c.notices...)
	}
	if c.form != nil {
		rv := c.form.View()
		v.Review = &rv
	}
	return v
}

// Session returns the session the cycle was processed under
func (c *Cycle) Session() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
