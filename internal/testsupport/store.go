package testsupport

import (
	"context"
	"testing"

	"ferry/internal/blobcache"
	"ferry/internal/config"
	"ferry/internal/kvstore"
	"ferry/internal/stores"
	"ferry/internal/tasks"
)

// MustOpenStore opens the shared store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *kvstore.Store {
	t.Helper()

	store, err := stores.OpenShared(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("stores.OpenShared: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenQueue opens a task queue over a fresh shared store.
func MustOpenQueue(t testing.TB, cfg *config.Config) *tasks.Queue {
	t.Helper()

	queue, err := tasks.New(MustOpenStore(t, cfg))
	if err != nil {
		t.Fatalf("tasks.New: %v", err)
	}
	return queue
}

// MustOpenBlobs opens the blob cache for tests and registers cleanup.
func MustOpenBlobs(t testing.TB, cfg *config.Config) *blobcache.Cache {
	t.Helper()

	cache, err := stores.OpenBlobs(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("stores.OpenBlobs: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache
}

// NewTask creates a task and fails the test on error.
func NewTask(t testing.TB, queue *tasks.Queue, ownerID, kind string, payload any) tasks.Task {
	t.Helper()

	id, err := queue.Create(context.Background(), ownerID, kind, payload)
	if err != nil {
		t.Fatalf("queue.Create: %v", err)
	}
	task, err := queue.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("queue.Get: %v", err)
	}
	return task
}
