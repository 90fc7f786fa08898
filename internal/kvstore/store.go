package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	_ "modernc.org/sqlite"

	"ferry/internal/logging"
)

var partitionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Schema names a store, its version, and the partitions the version requires.
type Schema struct {
	Name       string
	Version    int
	Partitions []string
}

func (s Schema) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schema name is required")
	}
	if s.Version <= 0 {
		return fmt.Errorf("schema version must be positive, got %d", s.Version)
	}
	if len(s.Partitions) == 0 {
		return errors.New("schema must declare at least one partition")
	}
	seen := make(map[string]struct{}, len(s.Partitions))
	for _, name := range s.Partitions {
		if !partitionNamePattern.MatchString(name) {
			return fmt.Errorf("invalid partition name %q", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate partition %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Store is a named, versioned key-value store split into partitions. Each
// partition is a SQLite table keyed by string; values are JSON text, raw text,
// or raw bytes. Every operation is independently atomic.
type Store struct {
	db         *sql.DB
	path       string
	schema     Schema
	partitions map[string]struct{}
	logger     *slog.Logger
}

// Option customizes Open.
type Option func(*Store)

// WithLogger sets the logger used for recovery and maintenance events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens or creates the store at path. A store recorded at a lower version
// is upgraded in place; a store at the same version that lacks a required
// partition is recreated empty; a store recorded at a higher version is
// rejected with ErrVersionDowngrade.
func Open(ctx context.Context, path string, schema Schema, opts ...Option) (*Store, error) {
	ctx = ensureContext(ctx)
	if err := schema.validate(); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrStorageUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrStorageUnavailable, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	var tables int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sqlite_master").Scan(&tables); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, path, err)
	}

	store := &Store{
		db:         db,
		path:       path,
		schema:     Schema{Name: schema.Name, Version: schema.Version, Partitions: slices.Clone(schema.Partitions)},
		partitions: make(map[string]struct{}, len(schema.Partitions)),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = logging.NewComponentLogger(store.logger, "kvstore")
	for _, name := range schema.Partitions {
		store.partitions[name] = struct{}{}
	}

	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file backing the store.
func (s *Store) Path() string { return s.path }

// Name returns the schema name.
func (s *Store) Name() string { return s.schema.Name }

// Version returns the schema version the store was opened at.
func (s *Store) Version() int { return s.schema.Version }

// Partitions returns the declared partitions in schema order.
func (s *Store) Partitions() []string { return slices.Clone(s.schema.Partitions) }

// HasPartition reports whether the schema declares the partition.
func (s *Store) HasPartition(name string) bool {
	_, ok := s.partitions[name]
	return ok
}

func (s *Store) table(partition string) (string, error) {
	if !s.HasPartition(partition) {
		return "", fmt.Errorf("%w: %q", ErrPartitionNotFound, partition)
	}
	return tableName(partition), nil
}

func tableName(partition string) string {
	return `"p_` + partition + `"`
}
