package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Health summarizes the on-disk state of a store.
type Health struct {
	Path              string
	Exists            bool
	Readable          bool
	Version           int
	PartitionsPresent []string
	MissingPartitions []string
	IntegrityCheck    bool
	Counts            map[string]int
	Error             string
}

// CheckHealth inspects the database file, its partitions, and SQLite integrity.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{Path: s.path, Counts: make(map[string]int)}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat store: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("store path %q is a directory", s.path)
	}
	health.Exists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping store: %w", err)
	}
	health.Readable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM "+metaTable+" LIMIT 1").Scan(&health.Version); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read version: %w", err)
	}

	existing, err := s.existingPartitions(connCtx, s.db)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	for _, partition := range s.schema.Partitions {
		if _, ok := existing[partition]; !ok {
			health.MissingPartitions = append(health.MissingPartitions, partition)
			continue
		}
		health.PartitionsPresent = append(health.PartitionsPresent, partition)
		var count int
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM "+tableName(partition)).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", partition, err)
		}
		health.Counts[partition] = count
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
