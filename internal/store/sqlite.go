package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is the row layout of the SQLite backend.
type kvEntry struct {
	Key       string    `gorm:"column:entry_key;primarykey;size:255"`
	Value     []byte    `gorm:"column:value;not null"`
	SortTS    int64     `gorm:"column:sort_ts;index"`
	SortSeq   uint64    `gorm:"column:sort_seq"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name for kvEntry.
func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLite is a Store persisted in a SQLite database through GORM.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between writers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLite(db)
}

// NewSQLite wraps an existing GORM handle and migrates the schema.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv_entries: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get returns the entry stored under key.
func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	var row kvEntry
	if err := s.db.WithContext(ctx).First(&row, "entry_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return row.entry(), true, nil
}

// Put upserts value under key.
func (s *SQLite) Put(ctx context.Context, key string, value []byte, meta Meta) error {
	row := kvEntry{
		Key:       key,
		Value:     value,
		SortTS:    meta.Timestamp,
		SortSeq:   meta.Seq,
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// List returns the entries under prefix ordered by key.
func (s *SQLite) List(ctx context.Context, prefix string) ([]Entry, error) {
	var rows []kvEntry
	err := s.db.WithContext(ctx).
		Where("substr(entry_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix).
		Order("entry_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// Delete removes key. Missing keys are ignored.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&kvEntry{}, "entry_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r kvEntry) entry() Entry {
	return Entry{
		Key:   r.Key,
		Value: r.Value,
		Meta:  Meta{Timestamp: r.SortTS, Seq: r.SortSeq},
	}
}
