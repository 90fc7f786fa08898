package blobcache

import (
	"context"
	"fmt"
	"sort"

	"ferry/internal/logging"
)

// Info describes one persisted blob entry.
type Info struct {
	Key        string   `json:"key"`
	Category   Category `json:"category"`
	StorageKey string   `json:"storage_key"`
	Size       int64    `json:"size"`
	Legacy     bool     `json:"legacy"`
}

// Stats aggregates entries per category.
type Stats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

// ListAll describes every persisted entry, including legacy forms, ordered by logical key.
func (c *Cache) ListAll(ctx context.Context) ([]Info, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	described, err := c.store.Describe(ctx, blobPartition)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	infos := make([]Info, 0, len(described))
	for _, d := range described {
		key, category, legacy := splitStorageKey(d.Key)
		infos = append(infos, Info{
			Key:        key,
			Category:   category,
			StorageKey: d.Key,
			Size:       d.Size,
			Legacy:     legacy || d.Text,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Key != infos[j].Key {
			return infos[i].Key < infos[j].Key
		}
		return infos[i].StorageKey < infos[j].StorageKey
	})
	return infos, nil
}

// CategoryStats returns entry counts and stored bytes per category. Every
// known category is present in the result.
func (c *Cache) CategoryStats(ctx context.Context) (map[Category]Stats, error) {
	infos, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[Category]Stats, len(allCategories))
	for _, cat := range allCategories {
		stats[cat] = Stats{}
	}
	for _, info := range infos {
		s := stats[info.Category]
		s.Count++
		s.Bytes += info.Size
		stats[info.Category] = s
	}
	return stats, nil
}

// GarbageCollect removes every persisted entry whose logical key is not in
// live and revokes handles for the removed keys. Values are never read.
func (c *Cache) GarbageCollect(ctx context.Context, live map[string]struct{}) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	stored, err := c.store.ListKeys(ctx, blobPartition)
	if err != nil {
		return 0, fmt.Errorf("collect blobs: %w", err)
	}
	removed := 0
	for _, sk := range stored {
		key, _, _ := splitStorageKey(sk)
		if _, keep := live[key]; keep {
			continue
		}
		c.registry.Revoke(key)
		if err := c.store.Delete(ctx, blobPartition, sk); err != nil {
			return removed, fmt.Errorf("collect blob %s: %w", sk, err)
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("blob garbage collection finished",
			logging.String(logging.FieldEventType, "blob_gc"),
			logging.Int("removed", removed),
			logging.Int("kept", len(stored)-removed),
		)
	}
	return removed, nil
}
