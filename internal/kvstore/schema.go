package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ferry/internal/logging"
)

const metaTable = "store_meta"

func (s *Store) initSchema(ctx context.Context) error {
	var metaExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", metaTable,
	).Scan(&metaExists)
	if err != nil {
		return fmt.Errorf("check %s table: %w", metaTable, err)
	}

	if metaExists == 0 {
		return s.createSchema(ctx)
	}

	var (
		name    string
		version int
	)
	err = s.db.QueryRowContext(ctx, "SELECT name, version FROM "+metaTable+" LIMIT 1").Scan(&name, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createSchema(ctx)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if name != s.schema.Name {
		return fmt.Errorf("%w: %s holds store %q, not %q", ErrStorageUnavailable, s.path, name, s.schema.Name)
	}
	if version > s.schema.Version {
		return fmt.Errorf("%w: %s is at version %d, requested %d", ErrVersionDowngrade, s.path, version, s.schema.Version)
	}
	if version < s.schema.Version {
		return s.upgradeSchema(ctx, version)
	}

	err = s.verifyPartitions(ctx)
	if errors.Is(err, ErrSchemaMismatch) {
		logging.WarnWithContext(s.logger, "store schema incomplete; recreating empty store", "store_schema_recreated",
			logging.String("path", s.path),
			logging.Int("version", version),
			logging.Error(err),
			logging.String(logging.FieldImpact, "all previously stored records in this store were discarded"),
			logging.String(logging.FieldErrorHint, "restore from a ferry kv export if the data is needed"),
		)
		return s.recreateSchema(ctx)
	}
	return err
}

func (s *Store) existingPartitions(ctx context.Context, q queryer) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'p\\_%' ESCAPE '\\'")
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		existing[strings.TrimPrefix(table, "p_")] = struct{}{}
	}
	return existing, rows.Err()
}

func (s *Store) verifyPartitions(ctx context.Context) error {
	existing, err := s.existingPartitions(ctx, s.db)
	if err != nil {
		return err
	}
	var missing []string
	for _, name := range s.schema.Partitions {
		if _, ok := existing[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing partitions %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

func createPartitionSQL(partition string) string {
	return "CREATE TABLE IF NOT EXISTS " + tableName(partition) + ` (
		key TEXT PRIMARY KEY NOT NULL,
		value,
		updated_at TEXT NOT NULL
	)`
}

func (s *Store) createSchema(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+metaTable+" (name TEXT NOT NULL, version INTEGER NOT NULL)"); err != nil {
			return err
		}
		for _, partition := range s.schema.Partitions {
			if _, err := tx.ExecContext(ctx, createPartitionSQL(partition)); err != nil {
				return fmt.Errorf("partition %s: %w", partition, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+metaTable); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO "+metaTable+" (name, version) VALUES (?, ?)", s.schema.Name, s.schema.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) upgradeSchema(ctx context.Context, from int) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, partition := range s.schema.Partitions {
			if _, err := tx.ExecContext(ctx, createPartitionSQL(partition)); err != nil {
				return fmt.Errorf("partition %s: %w", partition, err)
			}
		}
		_, err := tx.ExecContext(ctx, "UPDATE "+metaTable+" SET version = ?", s.schema.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("upgrade schema from %d to %d: %w", from, s.schema.Version, err)
	}
	s.logger.Info("store schema upgraded",
		logging.String(logging.FieldEventType, "store_schema_upgraded"),
		logging.String("path", s.path),
		logging.Int("from_version", from),
		logging.Int("to_version", s.schema.Version),
	)
	return nil
}

func (s *Store) recreateSchema(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.existingPartitions(ctx, tx)
		if err != nil {
			return err
		}
		for name := range existing {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName(name)); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+metaTable)
		return err
	})
	if err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return s.createSchema(ctx)
}
