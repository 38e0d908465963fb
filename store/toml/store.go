// Package toml persists agent records as one versioned TOML file per agent.
// Files are replaced atomically so a crash never leaves a half written
// record behind.
package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hupe1980/agenttown/core"
)

const (
	fileExt         = ".toml"
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".record-*.toml.tmp"
)

// Store implements core.RecordStore on a directory of TOML files.
type Store struct {
	dir string
	mu  sync.RWMutex
}

var _ core.RecordStore = (*Store)(nil)

// Open uses dir for record files, creating it if needed.
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve record directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	return &Store{dir: filepath.Clean(abs)}, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(agentID string) (string, error) {
	if agentID == "" || strings.ContainsAny(agentID, `/\`) || agentID == "." || agentID == ".." {
		return "", fmt.Errorf("invalid agent id %q for a file name", agentID)
	}
	return filepath.Join(s.dir, agentID+fileExt), nil
}

// Load reads the record of agentID.
func (s *Store) Load(ctx context.Context, agentID string) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	path, err := s.path(agentID)
	if err != nil {
		return core.Record{}, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return core.Record{}, fmt.Errorf("agent %s: %w", agentID, core.ErrRecordNotFound)
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("read record file: %w", err)
	}

	var file recordFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return core.Record{}, fmt.Errorf("decode record file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return core.Record{}, err
	}
	file.applyDefaults()
	if file.AgentID == "" {
		file.AgentID = agentID
	}
	return fromSchema(file), nil
}

// Save atomically replaces the record file of rec.AgentID.
func (s *Store) Save(ctx context.Context, rec core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(rec.AgentID)
	if err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	file := toSchema(rec)
	sort.Slice(file.Relations, func(i, j int) bool { return file.Relations[i].AgentID < file.Relations[j].AgentID })

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode record file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp record file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp record file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp record file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace record file: %w", err)
	}
	cleanup = false
	return nil
}

// List returns the ids of all stored agents in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("list record directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error { return nil }
