package testsupport

import (
	"path/filepath"
	"testing"

	"ferry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "ferry.sock")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithLLMBaseURL points the upstream client at a test server.
func WithLLMBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
	}
}

// WithNtfyTopic enables ntfy notifications against the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithWorkers sets the daemon worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Workers = n
	}
}

// WithShortSocketPath places the daemon socket under a short temp path.
// Unix socket paths are limited to ~108 bytes and t.TempDir can exceed that.
func WithShortSocketPath() ConfigOption {
	return func(b *configBuilder) {
		dir, err := shortTempDir()
		if err != nil {
			b.t.Fatalf("short temp dir: %v", err)
		}
		b.t.Cleanup(func() { removeAll(dir) })
		b.cfg.Paths.SocketPath = filepath.Join(dir, "ferry.sock")
	}
}
