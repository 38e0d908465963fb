// Package mysql persists agent records in MySQL through gorm, one row per
// memory, task and relation.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hupe1980/agenttown/core"
)

// Store implements core.RecordStore on MySQL.
type Store struct {
	db *gorm.DB
}

var _ core.RecordStore = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}

	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&AgentRow{}, &MemoryRow{}, &TaskRow{}, &RelationRow{}); err != nil {
		return nil, fmt.Errorf("migrate record tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Load reads the record of agentID.
func (s *Store) Load(ctx context.Context, agentID string) (core.Record, error) {
	db := s.db.WithContext(ctx)

	var r rows
	if err := db.Where("agent_id = ?", agentID).First(&r.agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Record{}, fmt.Errorf("agent %s: %w", agentID, core.ErrRecordNotFound)
		}
		return core.Record{}, err
	}
	if err := db.Where("agent_id = ?", agentID).Order("seq").Find(&r.memories).Error; err != nil {
		return core.Record{}, fmt.Errorf("load memories: %w", err)
	}
	if err := db.Where("agent_id = ?", agentID).Order("seq").Find(&r.tasks).Error; err != nil {
		return core.Record{}, fmt.Errorf("load tasks: %w", err)
	}
	if err := db.Where("agent_id = ?", agentID).Find(&r.relations).Error; err != nil {
		return core.Record{}, fmt.Errorf("load relations: %w", err)
	}
	return fromRows(r), nil
}

// Save replaces the record of rec.AgentID in one transaction.
func (s *Store) Save(ctx context.Context, rec core.Record) error {
	if strings.TrimSpace(rec.AgentID) == "" {
		return errors.New("save record: empty agent id")
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	r := toRows(rec)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&r.agent).Error; err != nil {
			return fmt.Errorf("save agent row: %w", err)
		}
		for _, model := range []any{&MemoryRow{}, &TaskRow{}, &RelationRow{}} {
			if err := tx.Where("agent_id = ?", rec.AgentID).Delete(model).Error; err != nil {
				return fmt.Errorf("clear old rows: %w", err)
			}
		}
		if len(r.memories) > 0 {
			if err := tx.CreateInBatches(r.memories, 200).Error; err != nil {
				return fmt.Errorf("insert memories: %w", err)
			}
		}
		if len(r.tasks) > 0 {
			if err := tx.Create(&r.tasks).Error; err != nil {
				return fmt.Errorf("insert tasks: %w", err)
			}
		}
		if len(r.relations) > 0 {
			if err := tx.Create(&r.relations).Error; err != nil {
				return fmt.Errorf("insert relations: %w", err)
			}
		}
		return nil
	})
}

// List returns the ids of all stored agents in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&AgentRow{}).Order("agent_id").Pluck("agent_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return ids, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}
