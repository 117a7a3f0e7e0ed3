// Package review holds the editable copy of a receipt draft between extraction and saving
package review

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zombor/expense-splitter/internal/scanning"
)

var (
	// ErrDescriptionRequired is returned by Submit when the description is blank
	ErrDescriptionRequired = errors.New("description is required")
	// ErrDateRequired is returned by Submit when the date is blank
	ErrDateRequired = errors.New("date is required")
	// ErrInvalidDate is returned by Submit when the date cannot be read
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
	// ErrClosed is returned for any change after the form was submitted or cancelled
	ErrClosed = errors.New("form is closed")
	// ErrUnknownField is returned by UpdateItem for fields other than description and amount
	ErrUnknownField = errors.New("unknown item field")
)

// State is the lifecycle position of a Form
type State string

const (
	StateEditing   State = "editing"
	StateSubmitted State = "submitted"
	StateCancelled State = "cancelled"
)

// Item fields accepted by UpdateItem
const (
	FieldDescription = "description"
	FieldAmount      = "amount"
)

// Finalized is the corrected receipt handed on for persistence
type Finalized struct {
	Description string
	TotalAmount decimal.Decimal
	Date        string // YYYY-MM-DD
	ImageRef    string
	Items       []scanning.LineItem
}

// Form is a mutable copy of a draft. It is not safe for concurrent use.
type Form struct {
	description string
	date        string
	imageRef    string
	items       []scanning.LineItem
	state       State
}

// Template returns the empty draft used for manual entry
func Template(today time.Time) *scanning.ReceiptDraft {
	return &scanning.ReceiptDraft{
		Date:        today.Format("2006-01-02"),
		TotalAmount: decimal.Zero,
		Items:       []scanning.LineItem{},
	}
}

// NewForm copies draft into a new editing form. A nil draft starts from Template
// with one blank row; a draft's empty item list stays empty.
func NewForm(draft *scanning.ReceiptDraft) *Form {
	blankRow := draft == nil
	if draft == nil {
		draft = Template(time.Now())
	}

	f := &Form{
		description: draft.Description,
		date:        draft.Date,
		imageRef:    draft.ImageRef,
		items:       make([]scanning.LineItem, len(draft.Items)),
		state:       StateEditing,
	}
	copy(f.items, draft.Items)
	if blankRow {
		f.items = append(f.items, scanning.LineItem{Amount: decimal.Zero})
	}
	return f
}

// State returns the current lifecycle state
func (f *Form) State() State {
	return f.state
}

// SetDescription replaces the receipt description
func (f *Form) SetDescription(description string) error {
	if f.state != StateEditing {
		return ErrClosed
	}
	f.description = description
	return nil
}

// SetDate replaces the receipt date; it is checked on Submit
func (f *Form) SetDate(date string) error {
	if f.state != StateEditing {
		return ErrClosed
	}
	f.date = date
	return nil
}

// AddItem appends a blank zero-amount item
func (f *Form) AddItem() error {
	if f.state != StateEditing {
		return ErrClosed
	}
	f.items = append(f.items, scanning.LineItem{Amount: decimal.Zero})
	return nil
}

// RemoveItem removes the item at index. Out-of-range indexes are ignored.
func (f *Form) RemoveItem(index int) error {
	if f.state != StateEditing {
		return ErrClosed
	}
	if index < 0 || index >= len(f.items) {
		return nil
	}
	f.items = append(f.items[:index], f.items[index+1:]...)
	return nil
}

// UpdateItem sets one field of one item. Amounts that do not parse, or are negative, become zero.
// Out-of-range indexes are ignored.
func (f *Form) UpdateItem(index int, field, value string) error {
	if f.state != StateEditing {
		return ErrClosed
	}
	if field != FieldDescription && field != FieldAmount {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if index < 0 || index >= len(f.items) {
		return nil
	}

	switch field {
	case FieldDescription:
		f.items[index].Description = value
	case FieldAmount:
		f.items[index].Amount = parseAmount(value)
	}
	return nil
}

// leadingNumber matches the numeric prefix of an amount; trailing text such as "ea" is ignored
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)`)

func parseAmount(value string) decimal.Decimal {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "$"))
	amount, err := decimal.NewFromString(leadingNumber.FindString(value))
	if err != nil || amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Total is the sum of the current item amounts
func (f *Form) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range f.items {
		total = total.Add(item.Amount)
	}
	return total
}

// Submit validates the form and hands the finalized receipt to sink.
// When sink fails the form keeps editing so the caller can retry.
func (f *Form) Submit(sink func(Finalized) error) error {
	if f.state != StateEditing {
		return ErrClosed
	}

	description := strings.TrimSpace(f.description)
	if description == "" {
		return ErrDescriptionRequired
	}
	if strings.TrimSpace(f.date) == "" {
		return ErrDateRequired
	}
	date, ok := scanning.NormalizeDate(f.date)
	if !ok {
		return ErrInvalidDate
	}

	items := make([]scanning.LineItem, 0, len(f.items))
	for _, item := range f.items {
		items = append(items, scanning.LineItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      item.Amount,
		})
	}

	if err := sink(Finalized{
		Description: description,
		TotalAmount: f.Total(),
		Date:        date,
		ImageRef:    f.imageRef,
		Items:       items,
	}); err != nil {
		return err
	}

	f.state = StateSubmitted
	return nil
}

// Cancel discards the form
func (f *Form) Cancel() error {
	if f.state != StateEditing {
		return ErrClosed
	}
	f.state = StateCancelled
	f.items = nil
	return nil
}

// ItemView is one row of a View
type ItemView struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// View is a read-only snapshot of the form for rendering
type View struct {
	Description string          `json:"description"`
	Date        string          `json:"date"`
	ImageRef    string          `json:"image_ref,omitempty"`
	Items       []ItemView      `json:"items"`
	Total       decimal.Decimal `json:"total"`
	State       State           `json:"state"`
}

// View returns a snapshot of the form with the live total
func (f *Form) View() View {
	items := make([]ItemView, 0, len(f.items))
	for _, item := range f.items {
		items = append(items, ItemView{Description: item.Description, Amount: item.Amount})
	}
	return View{
		Description: f.description,
		Date:        f.date,
		ImageRef:    f.imageRef,
		Items:       items,
		Total:       f.Total(),
		State:       f.state,
	}
}
