package kvstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Entry is a raw record. Text reports that the value is stored as text rather than binary.
type Entry struct {
	Data []byte `json:"data"`
	Text bool   `json:"text,omitempty"`
}

// String returns the entry payload as a string.
func (e Entry) String() string { return string(e.Data) }

// Get JSON-decodes the value stored under key into dest. A missing key reports found=false with a nil error.
func (s *Store) Get(ctx context.Context, partition, key string, dest any) (bool, error) {
	entry, found, err := s.GetEntry(ctx, partition, key)
	if err != nil || !found {
		return found, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return true, fmt.Errorf("decode %s/%s: %w", partition, key, err)
	}
	return true, nil
}

// GetEntry returns the raw record stored under key.
func (s *Store) GetEntry(ctx context.Context, partition, key string) (Entry, bool, error) {
	ctx = ensureContext(ctx)
	table, err := s.table(partition)
	if err != nil {
		return Entry{}, false, err
	}
	var (
		data []byte
		kind string
	)
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT value, typeof(value) FROM "+table+" WHERE key = ?", key,
		).Scan(&data, &kind)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s/%s: %w", partition, key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return Entry{Data: data, Text: kind == "text"}, true, nil
}

// Set JSON-encodes value and stores it as text under key.
func (s *Store) Set(ctx context.Context, partition, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", partition, key, err)
	}
	return s.put(ctx, partition, key, string(payload))
}

// PutBytes stores data as a binary value.
func (s *Store) PutBytes(ctx context.Context, partition, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return s.put(ctx, partition, key, data)
}

// PutText stores text as a text value.
func (s *Store) PutText(ctx context.Context, partition, key, text string) error {
	return s.put(ctx, partition, key, text)
}

// PutEntry stores a raw record, preserving its text/binary kind.
func (s *Store) PutEntry(ctx context.Context, partition, key string, entry Entry) error {
	if entry.Text {
		return s.PutText(ctx, partition, key, string(entry.Data))
	}
	return s.PutBytes(ctx, partition, key, entry.Data)
}

func (s *Store) put(ctx context.Context, partition, key string, value any) error {
	table, err := s.table(partition)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("put %s: empty key", partition)
	}
	_, err = s.execWithRetry(ctx,
		"INSERT INTO "+table+` (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowString(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", partition, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	table, err := s.table(partition)
	if err != nil {
		return err
	}
	if _, err := s.execWithRetry(ctx, "DELETE FROM "+table+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, key, err)
	}
	return nil
}

// MoveIfUnchanged stores data as binary under to and removes from, but only
// while from still holds expect. A value already present under a different
// to is kept and from is only removed. It reports whether anything changed;
// false means from was rewritten or deleted since expect was read.
func (s *Store) MoveIfUnchanged(ctx context.Context, partition, from string, expect Entry, to string, data []byte) (bool, error) {
	table, err := s.table(partition)
	if err != nil {
		return false, err
	}
	if from == "" || to == "" {
		return false, fmt.Errorf("move %s: empty key", partition)
	}
	if data == nil {
		data = []byte{}
	}
	var moved bool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		moved = false
		current, found, err := getEntryTx(ctx, tx, table, from)
		if err != nil || !found {
			return err
		}
		if current.Text != expect.Text || !bytes.Equal(current.Data, expect.Data) {
			return nil
		}
		occupied := false
		if to != from {
			if _, occupied, err = getEntryTx(ctx, tx, table, to); err != nil {
				return err
			}
		}
		if !occupied {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO "+table+` (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				to, data, nowString(),
			); err != nil {
				return err
			}
		}
		if to != from {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE key = ?", from); err != nil {
				return err
			}
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("move %s/%s: %w", partition, from, err)
	}
	return moved, nil
}

func getEntryTx(ctx context.Context, tx *sql.Tx, table, key string) (Entry, bool, error) {
	var (
		data []byte
		kind string
	)
	err := tx.QueryRowContext(ctx, "SELECT value, typeof(value) FROM "+table+" WHERE key = ?", key).Scan(&data, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if data == nil {
		data = []byte{}
	}
	return Entry{Data: data, Text: kind == "text"}, true, nil
}

// ListKeys returns every key in the partition in ascending order.
func (s *Store) ListKeys(ctx context.Context, partition string) ([]string, error) {
	ctx = ensureContext(ctx)
	table, err := s.table(partition)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = retryOnBusy(ctx, func() error {
		keys = keys[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT key FROM "+table+" ORDER BY key")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", partition, err)
	}
	return keys, nil
}

// GetAll returns every record in the partition.
func (s *Store) GetAll(ctx context.Context, partition string) (map[string]Entry, error) {
	ctx = ensureContext(ctx)
	table, err := s.table(partition)
	if err != nil {
		return nil, err
	}
	var entries map[string]Entry
	err = retryOnBusy(ctx, func() error {
		entries, err = readPartition(ctx, s.db, table)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", partition, err)
	}
	return entries, nil
}

type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

func readPartition(ctx context.Context, q queryer, table string) (map[string]Entry, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value, typeof(value) FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var (
			key  string
			data []byte
			kind string
		)
		if err := rows.Scan(&key, &data, &kind); err != nil {
			return nil, err
		}
		if data == nil {
			data = []byte{}
		}
		entries[key] = Entry{Data: data, Text: kind == "text"}
	}
	return entries, rows.Err()
}

// Clear removes every record from the partition and returns the number removed.
func (s *Store) Clear(ctx context.Context, partition string) (int64, error) {
	table, err := s.table(partition)
	if err != nil {
		return 0, err
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", partition, err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// Count returns the number of records in the partition.
func (s *Store) Count(ctx context.Context, partition string) (int, error) {
	ctx = ensureContext(ctx)
	table, err := s.table(partition)
	if err != nil {
		return 0, err
	}
	var count int
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return count, nil
}

// KeyInfo describes a record without loading its value.
type KeyInfo struct {
	Key  string
	Size int64
	Text bool
}

// Describe returns key, stored size, and value kind for every record in the partition, ordered by key.
func (s *Store) Describe(ctx context.Context, partition string) ([]KeyInfo, error) {
	ctx = ensureContext(ctx)
	table, err := s.table(partition)
	if err != nil {
		return nil, err
	}
	var infos []KeyInfo
	err = retryOnBusy(ctx, func() error {
		infos = infos[:0]
		rows, err := s.db.QueryContext(ctx,
			"SELECT key, COALESCE(length(CAST(value AS BLOB)), 0), typeof(value) FROM "+table+" ORDER BY key")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				info KeyInfo
				kind string
			)
			if err := rows.Scan(&info.Key, &info.Size, &kind); err != nil {
				return err
			}
			info.Text = kind == "text"
			infos = append(infos, info)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", partition, err)
	}
	return infos, nil
}
