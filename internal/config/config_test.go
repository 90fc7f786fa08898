package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ferry/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FERRY_LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "router-key")
	t.Chdir(tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "ferry")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantData, "ferry.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.StorePath() != filepath.Join(wantData, "ferry.db") {
		t.Fatalf("unexpected store path: %q", cfg.StorePath())
	}
	if cfg.Store.Version != config.Default().Store.Version {
		t.Fatalf("unexpected store version: %d", cfg.Store.Version)
	}
	if cfg.LLM.RetryAttempts != 1 {
		t.Fatalf("expected a single upstream attempt by default, got %d", cfg.LLM.RetryAttempts)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	dataDir := filepath.Join(tempHome, "data")
	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": dataDir,
		},
		"store": map[string]any{
			"version": 5,
		},
		"llm": map[string]any{
			"api_key":     "explicit",
			"model":       "demo/model",
			"temperature": 0.2,
		},
		"daemon": map[string]any{
			"workers": 4,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	encoded, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir == "" {
		t.Fatal("expected log dir to be set")
	}
	if cfg.Store.Version != 5 {
		t.Fatalf("expected store version 5, got %d", cfg.Store.Version)
	}
	if cfg.LLM.APIKey != "explicit" || cfg.LLM.Model != "demo/model" {
		t.Fatalf("unexpected llm settings: %+v", cfg.LLM)
	}
	if cfg.Daemon.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Daemon.Workers)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"temperature", func(c *config.Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"avatar quality", func(c *config.Config) { c.Blobs.AvatarQuality = 101 }, "blobs.avatar_quality"},
		{"avatar dim", func(c *config.Config) { c.Blobs.MaxAvatarDim = 4 }, "blobs.max_avatar_dim"},
		{"workers", func(c *config.Config) { c.Daemon.Workers = 0 }, "daemon.workers"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "just-a-topic" }, "notifications.ntfy_topic"},
		{"base url", func(c *config.Config) { c.LLM.BaseURL = "not a url" }, "llm.base_url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesDataAndLogDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "data", "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
}

func TestCreateSampleLoadsCleanly(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	target := filepath.Join(tempHome, "nested", "config.toml")

	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Daemon.Workers != config.Default().Daemon.Workers {
		t.Fatalf("sample workers drifted from defaults: %d", cfg.Daemon.Workers)
	}
}
