// SPDX-License-Identifier: EPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ik5/sampleprep/internal/logger"
)

// KVEntry is the single table backing every collection.
type KVEntry struct {
	Collection string `gorm:"primaryKey;size:64"`
	Key        string `gorm:"primaryKey;size:255"`
	Value      []byte
	UpdatedAt  time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }

type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate SQLite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Collection(name string) Collection {
	return &sqliteCollection{db: s.db, name: name}
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteCollection struct {
	db   *gorm.DB
	name string
}

func (c *sqliteCollection) Get(ctx context.Context, key string) ([]byte, error) {
	var e KVEntry
	err := c.db.WithContext(ctx).
		Where("collection = ? AND key = ?", c.name, key).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", c.name, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (c *sqliteCollection) Set(ctx context.Context, key string, value []byte) error {
	e := KVEntry{Collection: c.name, Key: key, Value: value}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&e).Error
}

func (c *sqliteCollection) Remove(ctx context.Context, key string) error {
	return c.db.WithContext(ctx).
		Where("collection = ? AND key = ?", c.name, key).
		Delete(&KVEntry{}).Error
}

func (c *sqliteCollection) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.db.WithContext(ctx).
		Model(&KVEntry{}).
		Where("collection = ?", c.name).
		Order("key").
		Pluck("key", &keys).Error
	return keys, err
}

func (c *sqliteCollection) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	rows, err := c.db.WithContext(ctx).
		Model(&KVEntry{}).
		Where("collection = ?", c.name).
		Order("key").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e KVEntry
		if err := c.db.ScanRows(rows, &e); err != nil {
			return err
		}
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// gormWriter forwards gorm's printf-style logging to a module logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug(fmt.Sprintf(format, args...))
}

func newGormLogger(log logger.Logger) gormlogger.Interface {
	if log == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return gormlogger.New(gormWriter{log: log.Module("gorm")}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
