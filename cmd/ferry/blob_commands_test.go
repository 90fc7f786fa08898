package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ferry/internal/blobcache"
	"ferry/internal/testsupport"
)

func TestBlobPutListAndGet(t *testing.T) {
	env := setupCLITestEnv(t)

	src := filepath.Join(t.TempDir(), "wave.webp")
	testsupport.WriteFile(t, src, 512)

	out := env.run(t, "blob", "put", "sticker_wave", src)
	requireContains(t, out, "Stored sticker_wave as Sticker (512 B)")

	out = env.run(t, "blob", "ls")
	requireContains(t, out, "sticker_wave")
	requireContains(t, out, "Sticker")

	out = env.run(t, "blob", "ls", "--json")
	var infos []blobcache.Info
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode blob ls json: %v\n%s", err, out)
	}
	if len(infos) != 1 || infos[0].Key != "sticker_wave" {
		t.Fatalf("unexpected blob listing: %+v", infos)
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	env.run(t, "blob", "get", "sticker_wave", "-o", dest)
	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("blob get returned %d bytes, want %d", len(got), len(want))
	}
}

func TestBlobCopyRemoveAndStats(t *testing.T) {
	env := setupCLITestEnv(t)

	src := filepath.Join(t.TempDir(), "bg.png")
	testsupport.WriteFile(t, src, 100)
	env.run(t, "blob", "put", "bg_beach", src)
	env.run(t, "blob", "cp", "bg_beach", "photo_beach")

	out := env.run(t, "blob", "stats")
	requireContains(t, out, "Background")
	requireContains(t, out, "Photo")
	requireContains(t, out, "TOTAL")
	requireContains(t, out, "200 B")

	env.run(t, "blob", "rm", "bg_beach")
	if _, _, err := runCLI(t, []string{"blob", "get", "bg_beach"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected missing blob error after rm")
	}
	out = env.run(t, "blob", "ls")
	requireContains(t, out, "photo_beach")
}

func TestBlobPutRejectsUnknownCategory(t *testing.T) {
	env := setupCLITestEnv(t)

	src := filepath.Join(t.TempDir(), "x.bin")
	testsupport.WriteFile(t, src, 10)
	if _, _, err := runCLI(t, []string{"blob", "put", "x", src, "--category", "wallpaper"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown category error")
	}
}

func TestCategoryLabel(t *testing.T) {
	if got := categoryLabel(blobcache.CategoryBackground); got != "Background" {
		t.Fatalf("categoryLabel = %q", got)
	}
}
