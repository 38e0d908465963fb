// Package sqlite persists agent records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agenttown/core"
)

// Store implements core.RecordStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ core.RecordStore = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" keeps everything
// in process.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agent_records (
		agent_id TEXT PRIMARY KEY,
		tasks_json TEXT NOT NULL,
		memories_json TEXT NOT NULL,
		relations_json TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_records_saved ON agent_records(saved_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load reads the record of agentID.
func (s *Store) Load(ctx context.Context, agentID string) (core.Record, error) {
	query := `
		SELECT tasks_json, memories_json, relations_json, saved_at
		FROM agent_records WHERE agent_id = ?`

	var tasks, memories, relations string
	var savedAt int64
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&tasks, &memories, &relations, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, fmt.Errorf("agent %s: %w", agentID, core.ErrRecordNotFound)
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("scan record row: %w", err)
	}

	rec := core.Record{AgentID: agentID, SavedAt: time.Unix(0, savedAt).UTC()}
	if err := json.Unmarshal([]byte(tasks), &rec.Tasks); err != nil {
		return core.Record{}, fmt.Errorf("decode tasks of %s: %w", agentID, err)
	}
	if err := json.Unmarshal([]byte(memories), &rec.Memories); err != nil {
		return core.Record{}, fmt.Errorf("decode memories of %s: %w", agentID, err)
	}
	if err := json.Unmarshal([]byte(relations), &rec.Relations); err != nil {
		return core.Record{}, fmt.Errorf("decode relations of %s: %w", agentID, err)
	}
	return rec, nil
}

// Save creates or replaces the record of rec.AgentID.
func (s *Store) Save(ctx context.Context, rec core.Record) error {
	if strings.TrimSpace(rec.AgentID) == "" {
		return errors.New("save record: empty agent id")
	}
	tasks, err := json.Marshal(nonNil(rec.Tasks))
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	memories, err := json.Marshal(nonNil(rec.Memories))
	if err != nil {
		return fmt.Errorf("encode memories: %w", err)
	}
	relations := rec.Relations
	if relations == nil {
		relations = map[string]core.Relation{}
	}
	rel, err := json.Marshal(relations)
	if err != nil {
		return fmt.Errorf("encode relations: %w", err)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO agent_records (agent_id, tasks_json, memories_json, relations_json, saved_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(agent_id) DO UPDATE SET
		tasks_json = excluded.tasks_json,
		memories_json = excluded.memories_json,
		relations_json = excluded.relations_json,
		saved_at = excluded.saved_at,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.AgentID, string(tasks), string(memories), string(rel),
		rec.SavedAt.UnixNano(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// List returns the ids of all stored agents in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id FROM agent_records ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the record of agentID. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_records WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
