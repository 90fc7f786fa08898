package blobcache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ferry/internal/kvstore"
	"ferry/internal/logging"
)

const migrationTimeout = 30 * time.Second

type lookupResult struct {
	data  []byte
	found bool
}

// migration rewrites the record read from from as binary data under to. It
// only applies while from still holds seen.
type migration struct {
	key    string
	from   string
	to     string
	seen   kvstore.Entry
	data   []byte
	reason string
}

// lookup resolves key through the categorized forms first, then the bare
// legacy form. Legacy and text-encoded payloads are rewritten in the background.
func (c *Cache) lookup(ctx context.Context, key string) (lookupResult, error) {
	for _, stored := range candidates(key) {
		entry, found, err := c.store.GetEntry(ctx, blobPartition, stored)
		if err != nil {
			return lookupResult{}, fmt.Errorf("get blob %s: %w", key, err)
		}
		if !found {
			continue
		}
		data := c.decodeEntry(key, entry)
		if entry.Text && data != nil {
			c.schedule(migration{key: key, from: stored, to: stored, seen: entry, data: data, reason: "text_to_binary"})
		}
		if data == nil {
			data = entry.Data
		}
		return lookupResult{data: data, found: true}, nil
	}

	entry, found, err := c.store.GetEntry(ctx, blobPartition, key)
	if err != nil {
		return lookupResult{}, fmt.Errorf("get legacy blob %s: %w", key, err)
	}
	if !found {
		return lookupResult{}, nil
	}
	data := entry.Data
	if entry.Text {
		if decoded := c.decodeEntry(key, entry); decoded != nil {
			data = decoded
		}
	}
	c.schedule(migration{
		key:    key,
		from:   key,
		to:     storageKey(InferCategory(key), key),
		seen:   entry,
		data:   data,
		reason: "legacy_key",
	})
	return lookupResult{data: data, found: true}, nil
}

// decodeEntry returns the binary payload of a text-encoded entry, or nil when
// the entry is binary or the text is not a data URL.
func (c *Cache) decodeEntry(key string, entry kvstore.Entry) []byte {
	if !entry.Text {
		return nil
	}
	data, err := decodeDataURL(string(entry.Data))
	if err != nil {
		c.logger.Debug("text blob is not a data url; serving as-is",
			logging.String(logging.FieldBlobKey, key),
			logging.Error(err),
		)
		return nil
	}
	return data
}

func (c *Cache) schedule(m migration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.migrations.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.migrations.Done()
		ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
		defer cancel()
		applied, err := c.migrate(ctx, m)
		if err != nil {
			logging.WarnWithContext(c.logger, "blob migration failed", "blob_migration_failed",
				logging.String(logging.FieldBlobKey, m.key),
				logging.String("from", m.from),
				logging.String("to", m.to),
				logging.String("reason", m.reason),
				logging.Error(err),
				logging.String(logging.FieldImpact, "blob stays in its legacy form and will be migrated on a later read"),
			)
			return
		}
		if !applied {
			c.logger.Debug("blob migration skipped",
				logging.String(logging.FieldEventType, "blob_migration_skipped"),
				logging.String(logging.FieldBlobKey, m.key),
				logging.String("reason", m.reason),
				logging.String("skip_reason", "blob changed after it was read"),
			)
			return
		}
		c.logger.Info("blob migrated",
			logging.String(logging.FieldEventType, "blob_migrated"),
			logging.String(logging.FieldBlobKey, m.key),
			logging.String("from", m.from),
			logging.String("to", m.to),
			logging.String("reason", m.reason),
		)
	}()
}

// migrate applies m in one transaction. A Save, Delete or GarbageCollect that
// touched the key after the read wins, and the migration is skipped.
func (c *Cache) migrate(ctx context.Context, m migration) (bool, error) {
	return c.store.MoveIfUnchanged(ctx, blobPartition, m.from, m.seen, m.to, m.data)
}

var errNotDataURL = errors.New("not a data url")

// decodeDataURL decodes data:<mime>[;base64],<payload>.
func decodeDataURL(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	rest, ok := strings.CutPrefix(text, "data:")
	if !ok {
		return nil, errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errNotDataURL
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\n', '\r', '\t':
				return -1
			}
			return r
		}, payload)
		if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return data, nil
		}
		data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data url payload: %w", err)
	}
	return []byte(decoded), nil
}
