package receipt

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	groupBucketName   = "groups"
	receiptBucketName = "receipts"
)

// DB defines the interface for database operations
type DB interface {
	// SaveGroup creates or replaces a group and its member list
	SaveGroup(ctx context.Context, group *Group) error

	// GetGroup retrieves a group with its members
	GetGroup(ctx context.Context, id string) (*Group, error)

	// ListGroups returns every group
	ListGroups(ctx context.Context) ([]*Group, error)

	// ListGroupsForUser returns the groups userID is a member of
	ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error)

	// AddMember adds userID to a group; adding an existing member is a no-op
	AddMember(ctx context.Context, groupID, userID string, joinedAt time.Time) error

	// SaveReceipt saves a receipt together with its items
	SaveReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves a receipt with its items
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// ListGroupReceipts returns a group's receipts, newest date first
	ListGroupReceipts(ctx context.Context, groupID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its items
	DeleteReceipt(ctx context.Context, id string) error

	// Close closes the database connection
	Close() error
}

// sortReceipts orders by date descending, then creation time descending
func sortReceipts(receipts []*Receipt) {
	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// BoltDB implements the DB interface using BoltDB. It backs anonymous, single-device use.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(groupBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func putJSON(bucket *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	return bucket.Put([]byte(id), data)
}

func getGroup(tx *bbolt.Tx, id string) (*Group, error) {
	data := tx.Bucket([]byte(groupBucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("unmarshaling group: %w", err)
	}
	return &group, nil
}

// SaveGroup saves a group to the database
func (b *BoltDB) SaveGroup(_ context.Context, group *Group) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(groupBucketName)), group.ID, group)
	})
}

// GetGroup retrieves a group by ID
func (b *BoltDB) GetGroup(_ context.Context, id string) (*Group, error) {
	var group *Group
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		group, err = getGroup(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns all groups
func (b *BoltDB) ListGroups(_ context.Context) ([]*Group, error) {
	return b.listGroups(func(*Group) bool { return true })
}

// ListGroupsForUser returns the groups a user belongs to
func (b *BoltDB) ListGroupsForUser(_ context.Context, userID string) ([]*Group, error) {
	return b.listGroups(func(g *Group) bool { return g.HasMember(userID) })
}

func (b *BoltDB) listGroups(keep func(*Group) bool) ([]*Group, error) {
	groups := make([]*Group, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(groupBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var group Group
			if err := json.Unmarshal(v, &group); err != nil {
				return fmt.Errorf("unmarshaling group: %w", err)
			}
			if keep(&group) {
				groups = append(groups, &group)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(groups, func(a, b *Group) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return groups, nil
}

// AddMember adds a user to a group's member list
func (b *BoltDB) AddMember(_ context.Context, groupID, userID string, joinedAt time.Time) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		group, err := getGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.HasMember(userID) {
			return nil
		}
		group.Members = append(group.Members, Member{GroupID: groupID, UserID: userID, JoinedAt: joinedAt})
		group.UpdatedAt = joinedAt
		return putJSON(tx.Bucket([]byte(groupBucketName)), group.ID, group)
	})
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(_ context.Context, receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(receiptBucketName)), receipt.ID, receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(_ context.Context, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListGroupReceipts returns the receipts of one group
func (b *BoltDB) ListGroupReceipts(_ context.Context, groupID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.GroupID == groupID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortReceipts(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
