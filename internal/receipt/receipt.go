package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a group or receipt does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a signed-in user is not a member of the group
	ErrForbidden = errors.New("not a member of this group")
)

// Group is a set of people splitting expenses
type Group struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	Members   []Member  `json:"members" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member links a user to a group
type Member struct {
	GroupID  string    `json:"group_id" gorm:"primaryKey"`
	UserID   string    `json:"user_id" gorm:"primaryKey;index"`
	JoinedAt time.Time `json:"joined_at"`
}

// HasMember reports whether userID belongs to the group
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Receipt is a saved expense with its itemized lines
type Receipt struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	GroupID     string          `json:"group_id" gorm:"index"`
	Description string          `json:"description"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2)"`
	Date        string          `json:"date" gorm:"index"` // YYYY-MM-DD
	UploadedBy  string          `json:"uploaded_by"`
	PaidBy      string          `json:"paid_by"`
	ImageURL    string          `json:"image_url,omitempty"`
	Items       []Item          `json:"items" gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Item is one line of a receipt
type Item struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	ReceiptID   string          `json:"receipt_id" gorm:"index"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(12,2)"`
}
