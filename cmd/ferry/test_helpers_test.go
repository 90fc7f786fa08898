package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferry/internal/config"
	"ferry/internal/daemon"
	executepkg "ferry/internal/execute"
	"ferry/internal/ipc"
	"ferry/internal/testsupport"
	"ferry/internal/upstream"
)

// replyProvider answers every request with a fixed envelope.
type replyProvider struct {
	text string
}

func (p replyProvider) Complete(context.Context, upstream.Request) (string, error) {
	return p.text, nil
}

const cannedReply = `{"messages":[{"sender":"A","content":"hello back"},{"type":"sticker","sender":"A","sticker":"wave"}]}`

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("FERRY_LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	cfg := testsupport.NewConfig(t, testsupport.WithShortSocketPath(), testsupport.WithWorkers(1))
	configPath := testsupport.WriteConfig(t, cfg)

	queue := testsupport.MustOpenQueue(t, cfg)
	d, err := daemon.New(cfg, queue, executepkg.New(replyProvider{text: cannedReply}), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		d.Close()
		t.Fatalf("daemon start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args, e.socketPath, e.configPath)
	if err != nil {
		t.Fatalf("ferry %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
