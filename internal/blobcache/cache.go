package blobcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ferry/internal/kvstore"
	"ferry/internal/logging"
)

const (
	blobPartition = "blobs"
	lookupTimeout = 30 * time.Second
)

// Schema is the store layout backing the cache.
var Schema = kvstore.Schema{Name: "ferry-blobs", Version: 1, Partitions: []string{blobPartition}}

// Cache stores binary payloads by logical key, grouped by category.
type Cache struct {
	store     *kvstore.Store
	ownsStore bool
	registry  *Registry
	limits    AvatarLimits
	logger    *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	closed     bool
	migrations sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry shares a session's handle registry with the cache.
func WithRegistry(r *Registry) Option {
	return func(c *Cache) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithAvatarLimits overrides the avatar recompression bounds.
func WithAvatarLimits(limits AvatarLimits) Option {
	return func(c *Cache) {
		c.limits = limits.normalized()
	}
}

// Open opens the blob store at path and wraps it in a Cache that owns it.
func Open(ctx context.Context, path string, opts ...Option) (*Cache, error) {
	c := newCache(opts...)
	store, err := kvstore.Open(ctx, path, Schema, kvstore.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	c.store = store
	c.ownsStore = true
	return c, nil
}

// New wraps an already opened store. The store must declare the blobs partition.
func New(store *kvstore.Store, opts ...Option) (*Cache, error) {
	if store == nil || !store.HasPartition(blobPartition) {
		return nil, fmt.Errorf("blob cache requires a store with the %q partition", blobPartition)
	}
	c := newCache(opts...)
	c.store = store
	return c, nil
}

func newCache(opts ...Option) *Cache {
	c := &Cache{
		registry: NewRegistry(),
		limits:   AvatarLimits{}.normalized(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "blobcache")
	return c
}

// Registry returns the handle registry used by Get.
func (c *Cache) Registry() *Registry { return c.registry }

// Store returns the underlying key-value store.
func (c *Cache) Store() *kvstore.Store { return c.store }

// Save persists payload under key and returns the category it was stored in.
// Avatars are recompressed; a payload that cannot be decoded as an image is
// stored verbatim.
func (c *Cache) Save(ctx context.Context, key string, payload []byte, hint Category) (Category, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	category, err := resolveCategory(key, hint)
	if err != nil {
		return "", err
	}

	data := payload
	if category == CategoryAvatar {
		recompressed, err := recompressAvatar(payload, c.limits)
		if err != nil {
			logging.WarnWithContext(c.logger, "avatar recompression failed; storing original payload", "avatar_transform_failed",
				logging.String(logging.FieldBlobKey, key),
				logging.Int("bytes", len(payload)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "avatar stored at original size"),
				logging.String(logging.FieldErrorHint, "upload a PNG, JPEG, GIF or WebP image"),
			)
		} else {
			data = recompressed
		}
	}

	if err := c.putVerbatim(ctx, key, category, data); err != nil {
		return "", err
	}
	c.logger.Debug("blob saved",
		logging.String(logging.FieldBlobKey, key),
		logging.String("category", string(category)),
		logging.Int("bytes", len(data)),
	)
	return category, nil
}

// putVerbatim writes data under category/key and removes every other form of key.
func (c *Cache) putVerbatim(ctx context.Context, key string, category Category, data []byte) error {
	target := storageKey(category, key)
	if err := c.store.PutBytes(ctx, blobPartition, target, data); err != nil {
		return fmt.Errorf("save blob %s: %w", key, err)
	}
	for _, stored := range append(candidates(key), key) {
		if stored == target {
			continue
		}
		if err := c.store.Delete(ctx, blobPartition, stored); err != nil {
			return fmt.Errorf("save blob %s: remove stale %s: %w", key, stored, err)
		}
	}
	return nil
}

// Get returns a handle over the payload stored for key. Any handle previously
// issued for key is revoked. A missing key reports found=false without error.
func (c *Cache) Get(ctx context.Context, key string) (*Handle, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	// The shared lookup outlives any one caller; each caller still honors its own ctx.
	ch := c.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return c.lookup(lookupCtx, key)
	})
	var shared singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case shared = <-ch:
	}
	if shared.Err != nil {
		return nil, false, shared.Err
	}
	res := shared.Val.(lookupResult)
	if !res.found {
		return nil, false, nil
	}
	return c.registry.Issue(key, res.data), true, nil
}

// Delete revokes the live handle for key and removes every persisted form of it.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	c.registry.Revoke(key)
	for _, stored := range append(candidates(key), key) {
		if err := c.store.Delete(ctx, blobPartition, stored); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}
	return nil
}

// Copy stores the payload of fromKey under toKey, in toKey's inferred category, without transformation.
func (c *Cache) Copy(ctx context.Context, fromKey, toKey string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fromKey, err := normalizeKey(fromKey)
	if err != nil {
		return err
	}
	toKey, err = normalizeKey(toKey)
	if err != nil {
		return err
	}
	res, err := c.lookup(ctx, fromKey)
	if err != nil {
		return err
	}
	if !res.found {
		return fmt.Errorf("copy %s: %w", fromKey, ErrBlobNotFound)
	}
	if fromKey == toKey {
		return nil
	}
	c.registry.Revoke(toKey)
	return c.putVerbatim(ctx, toKey, InferCategory(toKey), res.data)
}

// Wait blocks until scheduled background migrations finish.
func (c *Cache) Wait() {
	c.migrations.Wait()
}

// Close waits for migrations and closes the store when the cache owns it.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.migrations.Wait()
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

func (c *Cache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}
