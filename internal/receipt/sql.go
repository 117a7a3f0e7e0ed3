package receipt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // pure Go SQLite driver
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLDB implements the DB interface on a relational database through gorm.
// It backs signed-in, shared use.
type SQLDB struct {
	db  *gorm.DB
	raw *sql.DB
}

// OpenSQLDB opens the relational store. driver is "sqlite" (dsn is a file path) or "postgres".
func OpenSQLDB(driver, dsn string) (*SQLDB, error) {
	cfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		conn, openErr := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if openErr != nil {
			return nil, fmt.Errorf("opening sqlite: %w", openErr)
		}
		conn.SetMaxOpenConns(1)
		db, err = gorm.Open(sqlite.Dialector{Conn: conn}, cfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}

	if err := db.AutoMigrate(&Group{}, &Member{}, &Receipt{}, &Item{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	raw, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting connection pool: %w", err)
	}
	return &SQLDB{db: db, raw: raw}, nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

// SaveGroup saves a group and its members
func (s *SQLDB) SaveGroup(ctx context.Context, group *Group) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(group).Error; err != nil {
			return fmt.Errorf("saving group: %w", err)
		}
		for i := range group.Members {
			group.Members[i].GroupID = group.ID
		}
		if len(group.Members) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&group.Members).Error; err != nil {
				return fmt.Errorf("saving members: %w", err)
			}
		}
		return nil
	})
}

// GetGroup retrieves a group with its members
func (s *SQLDB) GetGroup(ctx context.Context, id string) (*Group, error) {
	var group Group
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at") }).
		Where("id = ?", id).
		First(&group).Error
	if err != nil {
		return nil, notFound(err, "group", id)
	}
	return &group, nil
}

// ListGroups returns all groups
func (s *SQLDB) ListGroups(ctx context.Context) ([]*Group, error) {
	groups := make([]*Group, 0)
	err := s.db.WithContext(ctx).Preload("Members").Order("created_at").Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

// ListGroupsForUser returns the groups a user belongs to
func (s *SQLDB) ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error) {
	groups := make([]*Group, 0)
	err := s.db.WithContext(ctx).
		Preload("Members").
		Where("id IN (?)", s.db.Model(&Member{}).Select("group_id").Where("user_id = ?", userID)).
		Order("created_at").
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("listing groups for user: %w", err)
	}
	return groups, nil
}

// AddMember adds a user to a group
func (s *SQLDB) AddMember(ctx context.Context, groupID, userID string, joinedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Group{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking group: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
		}
		member := Member{GroupID: groupID, UserID: userID, JoinedAt: joinedAt}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
			return fmt.Errorf("adding member: %w", err)
		}
		return tx.Model(&Group{}).Where("id = ?", groupID).Update("updated_at", joinedAt).Error
	})
}

// SaveReceipt saves a receipt and replaces its items
func (s *SQLDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(receipt).Error; err != nil {
			return fmt.Errorf("saving receipt: %w", err)
		}
		if err := tx.Where("receipt_id = ?", receipt.ID).Delete(&Item{}).Error; err != nil {
			return fmt.Errorf("clearing items: %w", err)
		}
		for i := range receipt.Items {
			receipt.Items[i].ReceiptID = receipt.ID
		}
		if len(receipt.Items) > 0 {
			if err := tx.Create(&receipt.Items).Error; err != nil {
				return fmt.Errorf("saving items: %w", err)
			}
		}
		return nil
	})
}

// GetReceipt retrieves a receipt with its items in order
func (s *SQLDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	var receipt Receipt
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).
		First(&receipt).Error
	if err != nil {
		return nil, notFound(err, "receipt", id)
	}
	return &receipt, nil
}

// ListGroupReceipts returns a group's receipts, newest date first
func (s *SQLDB) ListGroupReceipts(ctx context.Context, groupID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("group_id = ?", groupID).
		Order("date DESC").
		Order("created_at DESC").
		Find(&receipts).Error
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its items
func (s *SQLDB) DeleteReceipt(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("receipt_id = ?", id).Delete(&Item{}).Error; err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Receipt{})
		if res.Error != nil {
			return fmt.Errorf("deleting receipt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Close closes the connection pool
func (s *SQLDB) Close() error {
	return s.raw.Close()
}
