package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sumeria/sumeria/internal/apperr"
)

// tokenRow is one persisted record. Service and Account form the key so a
// single database can back every service.
type tokenRow struct {
	Service   string `gorm:"primaryKey;size:64"`
	Account   string `gorm:"primaryKey;size:320"`
	Record    string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (tokenRow) TableName() string { return "token_records" }

// OpenSQLite opens (creating if needed) the SQLite database at path and
// migrates the token table.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open token database: %w", apperr.ErrFileSystem, err)
	}
	if err := db.AutoMigrate(&tokenRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrate token database: %w", apperr.ErrFileSystem, err)
	}
	return db, nil
}

// SQLStore keeps the records of one service in a gorm database.
type SQLStore struct {
	db      *gorm.DB
	service string
}

// NewSQLStore returns a store scoped to service.
func NewSQLStore(db *gorm.DB, service string) *SQLStore {
	return &SQLStore{db: db, service: service}
}

// Load returns the record for account.
func (s *SQLStore) Load(ctx context.Context, account string) (*Record, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).
		Where("service = ? AND account = ?", s.service, account).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap(ctx, "load token record", err)
	}
	rec, err := DecodeRecord([]byte(row.Record))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrFileSystem, err)
	}
	if rec.Account == "" {
		rec.Account = account
	}
	return rec, nil
}

// Save upserts rec.
func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Account == "" {
		return fmt.Errorf("%w: record has no account", apperr.ErrFileSystem)
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	row := tokenRow{
		Service:   s.service,
		Account:   rec.Account,
		Record:    string(data),
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return s.wrap(ctx, "save token record", err)
	}
	return nil
}

// Delete removes the record for account if present.
func (s *SQLStore) Delete(ctx context.Context, account string) error {
	err := s.db.WithContext(ctx).
		Where("service = ? AND account = ?", s.service, account).
		Delete(&tokenRow{}).Error
	if err != nil {
		return s.wrap(ctx, "delete token record", err)
	}
	return nil
}

// List returns the accounts stored for the service.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var accounts []string
	err := s.db.WithContext(ctx).
		Model(&tokenRow{}).
		Where("service = ?", s.service).
		Order("account").
		Pluck("account", &accounts).Error
	if err != nil {
		return nil, s.wrap(ctx, "list token records", err)
	}
	if accounts == nil {
		accounts = []string{}
	}
	return accounts, nil
}

func (s *SQLStore) wrap(ctx context.Context, action string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.FromContext(ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", apperr.ErrFileSystem, action, err)
}
