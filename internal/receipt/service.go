package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/ingest"
	"github.com/zombor/expense-splitter/internal/review"
	"github.com/zombor/expense-splitter/internal/scanning"
)

// IDGenerator generates unique IDs for groups, receipts and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles group and receipt operations.
// Anonymous callers use the local store; signed-in callers use the shared remote store.
type Service struct {
	local       DB
	remote      DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service. remote may be nil, in which case signed-in users share the local store.
func NewService(local, remote DB, storage Storage) *Service {
	return NewServiceWithDeps(local, remote, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(local, remote DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		local:       local,
		remote:      remote,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

func (s *Service) storeFor(session *auth.Session) DB {
	if session != nil && s.remote != nil {
		return s.remote
	}
	return s.local
}

// authorizedGroup loads a group and checks the session may use it
func (s *Service) authorizedGroup(ctx context.Context, session *auth.Session, groupID string) (*Group, error) {
	group, err := s.storeFor(session).GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if session != nil && !group.HasMember(session.UserID) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrForbidden)
	}
	return group, nil
}

// CreateGroup creates a group. A signed-in creator becomes its first member.
func (s *Service) CreateGroup(ctx context.Context, session *auth.Session, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ingest.ValidationError{Message: "group name is required"}
	}

	now := s.timeSource.Now()
	group := &Group{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		CreatedBy: auth.UserID(session),
		Members:   []Member{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session != nil {
		group.Members = append(group.Members, Member{GroupID: group.ID, UserID: session.UserID, JoinedAt: now})
	}

	if err := s.storeFor(session).SaveGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("saving group: %w", err)
	}
	return group, nil
}

// ListGroups returns the caller's groups
func (s *Service) ListGroups(ctx context.Context, session *auth.Session) ([]*Group, error) {
	var (
		groups []*Group
		err    error
	)
	if session == nil {
		groups, err = s.local.ListGroups(ctx)
	} else {
		groups, err = s.storeFor(session).ListGroupsForUser(ctx, session.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

// GetGroup returns a group with its members
func (s *Service) GetGroup(ctx context.Context, session *auth.Session, id string) (*Group, error) {
	group, err := s.authorizedGroup(ctx, session, id)
	if err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}
	return group, nil
}

// AddMember adds a user to a group the caller belongs to
func (s *Service) AddMember(ctx context.Context, session *auth.Session, groupID, userID string) (*Group, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ingest.ValidationError{Message: "user id is required"}
	}
	if _, err := s.authorizedGroup(ctx, session, groupID); err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}

	db := s.storeFor(session)
	if err := db.AddMember(ctx, groupID, userID, s.timeSource.Now()); err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return db.GetGroup(ctx, groupID)
}

// ListGroupReceipts returns a group's receipts, newest first
func (s *Service) ListGroupReceipts(ctx context.Context, session *auth.Session, groupID string) ([]*Receipt, error) {
	if _, err := s.authorizedGroup(ctx, session, groupID); err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}
	receipts, err := s.storeFor(session).ListGroupReceipts(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// GetReceipt retrieves a receipt the caller may see
func (s *Service) GetReceipt(ctx context.Context, session *auth.Session, id string) (*Receipt, error) {
	receipt, err := s.storeFor(session).GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if _, err := s.authorizedGroup(ctx, session, receipt.GroupID); err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// SaveReceipt persists a finalized receipt for the ingestion pipeline
func (s *Service) SaveReceipt(ctx context.Context, session *auth.Session, rec ingest.Record) (string, error) {
	if _, err := s.authorizedGroup(ctx, session, rec.GroupID); err != nil {
		return "", fmt.Errorf("getting group: %w", err)
	}

	now := s.timeSource.Now()
	receipt := &Receipt{
		ID:          s.idGenerator.Generate(),
		GroupID:     rec.GroupID,
		Description: rec.Description,
		TotalAmount: rec.TotalAmount.Round(2),
		Date:        rec.Date,
		UploadedBy:  rec.UploadedBy,
		PaidBy:      rec.PaidBy,
		ImageURL:    rec.ImageURL,
		Items:       make([]Item, 0, len(rec.Items)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// With items the stored total is the sum of the stored, rounded amounts
	itemTotal := decimal.Zero
	for _, line := range compactItems(rec.Items) {
		amount := line.Amount.Round(2)
		itemTotal = itemTotal.Add(amount)
		receipt.Items = append(receipt.Items, Item{
			ID:          s.idGenerator.Generate(),
			ReceiptID:   receipt.ID,
			Position:    len(receipt.Items),
			Description: line.Description,
			Amount:      amount,
		})
	}
	if len(receipt.Items) > 0 {
		receipt.TotalAmount = itemTotal
	}

	if err := s.storeFor(session).SaveReceipt(ctx, receipt); err != nil {
		return "", fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt.ID, nil
}

// compactItems drops rows the user left blank
func compactItems(items []scanning.LineItem) []scanning.LineItem {
	kept := make([]scanning.LineItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Description) == "" && item.Amount.IsZero() {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// ManualReceipt is a receipt typed in without an upload
type ManualReceipt struct {
	Description string              `json:"description"`
	Date        string              `json:"date"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	Items       []scanning.LineItem `json:"items"`
}

// CreateManualReceipt validates a manual entry like the review form does and saves it.
// With items the total is their sum; without, TotalAmount is used as given.
func (s *Service) CreateManualReceipt(ctx context.Context, session *auth.Session, groupID string, in ManualReceipt) (*Receipt, error) {
	if in.TotalAmount.IsNegative() {
		return nil, &ingest.ValidationError{Message: "total amount cannot be negative"}
	}
	for _, item := range in.Items {
		if item.Amount.IsNegative() {
			return nil, &ingest.ValidationError{Message: "item amounts cannot be negative"}
		}
	}

	form := review.NewForm(&scanning.ReceiptDraft{
		Description: in.Description,
		Date:        in.Date,
		Items:       in.Items,
	})

	var id string
	err := form.Submit(func(f review.Finalized) error {
		total := f.TotalAmount
		if len(compactItems(f.Items)) == 0 {
			total = in.TotalAmount
		}
		user := auth.UserID(session)
		var err error
		id, err = s.SaveReceipt(ctx, session, ingest.Record{
			GroupID:     groupID,
			Description: f.Description,
			TotalAmount: total,
			Date:        f.Date,
			UploadedBy:  user,
			PaidBy:      user,
			Items:       f.Items,
		})
		return err
	})
	switch {
	case errors.Is(err, review.ErrDescriptionRequired),
		errors.Is(err, review.ErrDateRequired),
		errors.Is(err, review.ErrInvalidDate):
		return nil, &ingest.ValidationError{Message: err.Error(), Err: err}
	case err != nil:
		return nil, err
	}
	return s.storeFor(session).GetReceipt(ctx, id)
}

// DeleteReceipt removes a receipt and, best effort, its stored original
func (s *Service) DeleteReceipt(ctx context.Context, session *auth.Session, id string) error {
	receipt, err := s.GetReceipt(ctx, session, id)
	if err != nil {
		return err
	}

	if err := s.storeFor(session).DeleteReceipt(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	if receipt.ImageURL != "" && s.storage != nil {
		if name, ok := s.storage.PathFromURL(receipt.ImageURL); ok {
			if err := s.storage.Delete(name); err != nil {
				// Log error; the record is already gone
				slog.Warn("Failed to delete file", "filename", name, "error", err)
			}
		}
	}
	return nil
}

// GetFile returns a stored original by name
func (s *Service) GetFile(name string) ([]byte, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("file %s: %w", name, ErrNotFound)
	}
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return data, nil
}
