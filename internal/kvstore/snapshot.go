package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Snapshot is a full copy of a store suitable for backup and restore.
type Snapshot struct {
	Name       string                      `json:"name"`
	Version    int                         `json:"version"`
	Partitions map[string]map[string]Entry `json:"partitions"`
}

// Records returns the total number of records across all partitions.
func (s Snapshot) Records() int {
	total := 0
	for _, records := range s.Partitions {
		total += len(records)
	}
	return total
}

// ExportAll reads every declared partition in a single read transaction.
func (s *Store) ExportAll(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Name:       s.schema.Name,
		Version:    s.schema.Version,
		Partitions: make(map[string]map[string]Entry, len(s.schema.Partitions)),
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, partition := range s.schema.Partitions {
			entries, err := readPartition(ctx, tx, tableName(partition))
			if err != nil {
				return fmt.Errorf("read %s: %w", partition, err)
			}
			snap.Partitions[partition] = entries
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("export %s: %w", s.schema.Name, err)
	}
	return snap, nil
}

// ImportAll replaces the contents of every partition named in snap with the
// snapshot's records. Partitions absent from snap are left untouched. A
// partition the schema does not declare rejects the whole import before any
// write happens.
func (s *Store) ImportAll(ctx context.Context, snap Snapshot) error {
	partitions := make([]string, 0, len(snap.Partitions))
	for partition := range snap.Partitions {
		if !s.HasPartition(partition) {
			return fmt.Errorf("import: %w: %q", ErrPartitionNotFound, partition)
		}
		partitions = append(partitions, partition)
	}
	sort.Strings(partitions)

	updatedAt := nowString()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, partition := range partitions {
			table := tableName(partition)
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", partition, err)
			}
			stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+table+" (key, value, updated_at) VALUES (?, ?, ?)")
			if err != nil {
				return err
			}
			for key, entry := range snap.Partitions[partition] {
				var value any = entry.Data
				if entry.Text {
					value = string(entry.Data)
				} else if entry.Data == nil {
					value = []byte{}
				}
				if _, err := stmt.ExecContext(ctx, key, value, updatedAt); err != nil {
					_ = stmt.Close()
					return fmt.Errorf("write %s/%s: %w", partition, key, err)
				}
			}
			if err := stmt.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", s.schema.Name, err)
	}
	return nil
}
