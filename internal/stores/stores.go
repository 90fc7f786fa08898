// Package stores opens the persistent stores shared by the ferry CLI and daemon.
package stores

import (
	"context"
	"fmt"
	"log/slog"

	"ferry/internal/blobcache"
	"ferry/internal/config"
	"ferry/internal/kvstore"
	"ferry/internal/tasks"
)

// Partitions of the shared store.
const (
	PartitionTasks         = tasks.Partition
	PartitionSettings      = "settings"
	PartitionProfiles      = "profiles"
	PartitionConversations = "conversations"
)

const sharedStoreName = "ferry"

// SharedSchema returns the shared store layout at version. Version 1 predates
// the conversations partition.
func SharedSchema(version int) kvstore.Schema {
	partitions := []string{PartitionTasks, PartitionSettings, PartitionProfiles}
	if version >= 2 {
		partitions = append(partitions, PartitionConversations)
	}
	return kvstore.Schema{Name: sharedStoreName, Version: version, Partitions: partitions}
}

// OpenShared opens the shared store at the configured path and version.
func OpenShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kvstore.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open shared store: config is required")
	}
	return kvstore.Open(ctx, cfg.StorePath(), SharedSchema(cfg.Store.Version), kvstore.WithLogger(logger))
}

// OpenBlobs opens the blob cache with the configured avatar limits. A nil
// registry gives the cache its own.
func OpenBlobs(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *blobcache.Registry) (*blobcache.Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open blob cache: config is required")
	}
	return blobcache.Open(ctx, cfg.BlobStorePath(),
		blobcache.WithLogger(logger),
		blobcache.WithRegistry(registry),
		blobcache.WithAvatarLimits(blobcache.AvatarLimits{
			MaxDim:  cfg.Blobs.MaxAvatarDim,
			Quality: cfg.Blobs.AvatarQuality,
		}),
	)
}

// OpenQueue opens the shared store and a task queue over it. Closing the
// returned store is the caller's job.
func OpenQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kvstore.Store, *tasks.Queue, error) {
	store, err := OpenShared(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	queue, err := tasks.New(store, tasks.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, queue, nil
}
