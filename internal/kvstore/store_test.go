package kvstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"ferry/internal/kvstore"
)

var testSchema = kvstore.Schema{Name: "test", Version: 1, Partitions: []string{"settings", "profiles"}}

func openStore(t *testing.T, path string, schema kvstore.Schema) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(context.Background(), path, schema)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	type prefs struct {
		Theme string `json:"theme"`
		Size  int    `json:"size"`
	}
	if err := store.Set(ctx, "settings", "prefs", prefs{Theme: "dark", Size: 14}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got prefs
	found, err := store.Get(ctx, "settings", "prefs", &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if got.Theme != "dark" || got.Size != 14 {
		t.Fatalf("unexpected value: %#v", got)
	}

	if err := store.Set(ctx, "settings", "prefs", prefs{Theme: "light"}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if _, err := store.Get(ctx, "settings", "prefs", &got); err != nil {
		t.Fatalf("Get after overwrite failed: %v", err)
	}
	if got.Theme != "light" {
		t.Fatalf("expected overwrite to win, got %#v", got)
	}
}

func TestGetMissingKeyIsAbsent(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)

	var dest map[string]any
	found, err := store.Get(context.Background(), "settings", "nope", &dest)
	if err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if found {
		t.Fatal("expected missing key to report found=false")
	}
}

func TestUnknownPartitionRejected(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing", "k", nil); !errors.Is(err, kvstore.ErrPartitionNotFound) {
		t.Fatalf("Get: expected ErrPartitionNotFound, got %v", err)
	}
	if err := store.Set(ctx, "missing", "k", 1); !errors.Is(err, kvstore.ErrPartitionNotFound) {
		t.Fatalf("Set: expected ErrPartitionNotFound, got %v", err)
	}
	if _, err := store.ListKeys(ctx, "missing"); !errors.Is(err, kvstore.ErrPartitionNotFound) {
		t.Fatalf("ListKeys: expected ErrPartitionNotFound, got %v", err)
	}
}

func TestDeleteListAndClear(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	for _, key := range []string{"c", "a", "b"} {
		if err := store.PutText(ctx, "settings", key, key+"-value"); err != nil {
			t.Fatalf("PutText %s failed: %v", key, err)
		}
	}
	keys, err := store.ListKeys(ctx, "settings")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := store.Delete(ctx, "settings", "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "settings", "b"); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}

	all, err := store.GetAll(ctx, "settings")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 || all["a"].String() != "a-value" {
		t.Fatalf("unexpected records: %#v", all)
	}

	removed, err := store.Clear(ctx, "settings")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if n, _ := store.Count(ctx, "settings"); n != 0 {
		t.Fatalf("expected empty partition, got %d", n)
	}
}

func TestEntryPreservesTextAndBinary(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	payload := []byte{0x00, 0xff, 0x10, 0x80}
	if err := store.PutBytes(ctx, "profiles", "bin", payload); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	if err := store.PutText(ctx, "profiles", "txt", "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	if err := store.PutBytes(ctx, "profiles", "empty", nil); err != nil {
		t.Fatalf("PutBytes(nil) failed: %v", err)
	}

	bin, found, err := store.GetEntry(ctx, "profiles", "bin")
	if err != nil || !found {
		t.Fatalf("GetEntry bin: found=%v err=%v", found, err)
	}
	if bin.Text || !reflect.DeepEqual(bin.Data, payload) {
		t.Fatalf("unexpected binary entry: %#v", bin)
	}

	txt, found, err := store.GetEntry(ctx, "profiles", "txt")
	if err != nil || !found {
		t.Fatalf("GetEntry txt: found=%v err=%v", found, err)
	}
	if !txt.Text || txt.String() != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected text entry: %#v", txt)
	}

	empty, found, err := store.GetEntry(ctx, "profiles", "empty")
	if err != nil || !found {
		t.Fatalf("GetEntry empty: found=%v err=%v", found, err)
	}
	if empty.Text || len(empty.Data) != 0 {
		t.Fatalf("unexpected empty entry: %#v", empty)
	}
}

func TestOpenUpgradeKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	v1, err := kvstore.Open(ctx, path, kvstore.Schema{Name: "test", Version: 1, Partitions: []string{"settings"}})
	if err != nil {
		t.Fatalf("Open v1 failed: %v", err)
	}
	if err := v1.Set(ctx, "settings", "keep", "me"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = v1.Close()

	v2 := openStore(t, path, kvstore.Schema{Name: "test", Version: 2, Partitions: []string{"settings", "tasks"}})
	var got string
	found, err := v2.Get(ctx, "settings", "keep", &got)
	if err != nil || !found || got != "me" {
		t.Fatalf("expected data to survive upgrade, found=%v got=%q err=%v", found, got, err)
	}
	if err := v2.Set(ctx, "tasks", "t1", 1); err != nil {
		t.Fatalf("new partition unusable after upgrade: %v", err)
	}
	health, err := v2.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if health.Version != 2 {
		t.Fatalf("expected recorded version 2, got %d", health.Version)
	}
}

func TestOpenRecreatesWhenPartitionMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	first, err := kvstore.Open(ctx, path, kvstore.Schema{Name: "test", Version: 1, Partitions: []string{"settings"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := first.Set(ctx, "settings", "lost", true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = first.Close()

	// Same version, more partitions: the store cannot be trusted and is rebuilt empty.
	second := openStore(t, path, kvstore.Schema{Name: "test", Version: 1, Partitions: []string{"settings", "profiles"}})
	found, err := second.Get(ctx, "settings", "lost", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expected recreated store to be empty")
	}
	if err := second.Set(ctx, "profiles", "p", 1); err != nil {
		t.Fatalf("recreated partition unusable: %v", err)
	}
}

func TestOpenRejectsVersionDowngrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	newer, err := kvstore.Open(ctx, path, kvstore.Schema{Name: "test", Version: 3, Partitions: []string{"settings"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = newer.Close()

	_, err = kvstore.Open(ctx, path, kvstore.Schema{Name: "test", Version: 2, Partitions: []string{"settings"}})
	if !errors.Is(err, kvstore.ErrVersionDowngrade) {
		t.Fatalf("expected ErrVersionDowngrade, got %v", err)
	}
}

func TestOpenRejectsForeignStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	other, err := kvstore.Open(ctx, path, kvstore.Schema{Name: "other", Version: 1, Partitions: []string{"settings"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = other.Close()

	if _, err := kvstore.Open(ctx, path, testSchema); !errors.Is(err, kvstore.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOpenGarbageFileUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i*7 + 3)
	}
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	if _, err := kvstore.Open(context.Background(), path, testSchema); !errors.Is(err, kvstore.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOpenValidatesSchema(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name   string
		schema kvstore.Schema
	}{
		{"missing name", kvstore.Schema{Version: 1, Partitions: []string{"a"}}},
		{"zero version", kvstore.Schema{Name: "x", Partitions: []string{"a"}}},
		{"no partitions", kvstore.Schema{Name: "x", Version: 1}},
		{"bad partition", kvstore.Schema{Name: "x", Version: 1, Partitions: []string{"Bad-Name"}}},
		{"duplicate", kvstore.Schema{Name: "x", Version: 1, Partitions: []string{"a", "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := kvstore.Open(context.Background(), filepath.Join(dir, tc.name+".db"), tc.schema); err == nil {
				t.Fatal("expected schema validation error")
			}
		})
	}
}

func TestExportImportReplaces(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, filepath.Join(t.TempDir(), "src.db"), testSchema)
	if err := src.Set(ctx, "settings", "theme", "dark"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := src.PutBytes(ctx, "settings", "blob", []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}

	snap, err := src.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if snap.Records() != 2 {
		t.Fatalf("expected 2 exported records, got %d", snap.Records())
	}
	delete(snap.Partitions, "profiles")

	dst := openStore(t, filepath.Join(t.TempDir(), "dst.db"), testSchema)
	if err := dst.Set(ctx, "settings", "stale", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := dst.Set(ctx, "profiles", "untouched", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := dst.ImportAll(ctx, snap); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}

	keys, _ := dst.ListKeys(ctx, "settings")
	if !reflect.DeepEqual(keys, []string{"blob", "theme"}) {
		t.Fatalf("expected import to replace partition, got keys %v", keys)
	}
	blob, _, _ := dst.GetEntry(ctx, "settings", "blob")
	if blob.Text || !reflect.DeepEqual(blob.Data, []byte{1, 2, 3}) {
		t.Fatalf("binary entry not preserved: %#v", blob)
	}
	if found, _ := dst.Get(ctx, "profiles", "untouched", nil); !found {
		t.Fatal("partition absent from snapshot should be left alone")
	}
}

func TestImportRejectsUnknownPartitionBeforeWriting(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	if err := store.Set(ctx, "settings", "keep", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	snap := kvstore.Snapshot{
		Name:    "test",
		Version: 1,
		Partitions: map[string]map[string]kvstore.Entry{
			"settings": {},
			"bogus":    {"k": {Data: []byte("1"), Text: true}},
		},
	}
	if err := store.ImportAll(ctx, snap); !errors.Is(err, kvstore.ErrPartitionNotFound) {
		t.Fatalf("expected ErrPartitionNotFound, got %v", err)
	}
	if found, _ := store.Get(ctx, "settings", "keep", nil); !found {
		t.Fatal("rejected import must not clear existing partitions")
	}
}

func TestCheckHealth(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	if err := store.Set(ctx, "settings", "a", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.Exists || !health.Readable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %#v", health)
	}
	if len(health.MissingPartitions) != 0 || health.Counts["settings"] != 1 {
		t.Fatalf("unexpected partition health: %#v", health)
	}
}

func TestMoveIfUnchanged(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	if err := store.PutText(ctx, "profiles", "old", "v1"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	seen, _, err := store.GetEntry(ctx, "profiles", "old")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}

	if err := store.PutText(ctx, "profiles", "old", "v2"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	moved, err := store.MoveIfUnchanged(ctx, "profiles", "old", seen, "new", []byte("v1"))
	if err != nil {
		t.Fatalf("MoveIfUnchanged failed: %v", err)
	}
	if moved {
		t.Fatal("expected rewritten source to block the move")
	}
	if _, found, _ := store.GetEntry(ctx, "profiles", "new"); found {
		t.Fatal("target written despite changed source")
	}

	seen, _, _ = store.GetEntry(ctx, "profiles", "old")
	moved, err = store.MoveIfUnchanged(ctx, "profiles", "old", seen, "new", []byte("v2"))
	if err != nil || !moved {
		t.Fatalf("MoveIfUnchanged: moved=%v err=%v", moved, err)
	}
	entry, found, _ := store.GetEntry(ctx, "profiles", "new")
	if !found || entry.Text || string(entry.Data) != "v2" {
		t.Fatalf("unexpected target entry: found=%v %#v", found, entry)
	}
	if _, found, _ := store.GetEntry(ctx, "profiles", "old"); found {
		t.Fatal("source still present after move")
	}

	moved, err = store.MoveIfUnchanged(ctx, "profiles", "old", seen, "new", []byte("v2"))
	if err != nil || moved {
		t.Fatalf("deleted source should not move: moved=%v err=%v", moved, err)
	}
}

func TestMoveIfUnchangedKeepsOccupiedTarget(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "kv.db"), testSchema)
	ctx := context.Background()

	if err := store.PutBytes(ctx, "profiles", "old", []byte("stale")); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	if err := store.PutBytes(ctx, "profiles", "new", []byte("fresh")); err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}
	seen, _, _ := store.GetEntry(ctx, "profiles", "old")
	moved, err := store.MoveIfUnchanged(ctx, "profiles", "old", seen, "new", []byte("stale"))
	if err != nil || !moved {
		t.Fatalf("MoveIfUnchanged: moved=%v err=%v", moved, err)
	}
	entry, _, _ := store.GetEntry(ctx, "profiles", "new")
	if string(entry.Data) != "fresh" {
		t.Fatalf("occupied target overwritten: %q", entry.Data)
	}
	if _, found, _ := store.GetEntry(ctx, "profiles", "old"); found {
		t.Fatal("source still present")
	}

	if err := store.PutText(ctx, "profiles", "inplace", "data"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	seen, _, _ = store.GetEntry(ctx, "profiles", "inplace")
	if moved, err := store.MoveIfUnchanged(ctx, "profiles", "inplace", seen, "inplace", []byte("data")); err != nil || !moved {
		t.Fatalf("in-place rewrite: moved=%v err=%v", moved, err)
	}
	entry, _, _ = store.GetEntry(ctx, "profiles", "inplace")
	if entry.Text || string(entry.Data) != "data" {
		t.Fatalf("in-place rewrite left %#v", entry)
	}
}
