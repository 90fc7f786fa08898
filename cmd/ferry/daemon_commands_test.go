package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferry/internal/session"
)

func TestStatusReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.run(t, "status")
	requireContains(t, out, "System Status")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "Task Queue")

	out = env.run(t, "status", "--json")
	var overview session.Overview
	if err := json.Unmarshal([]byte(out), &overview); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !overview.DaemonRunning || overview.PID != os.Getpid() {
		t.Fatalf("unexpected overview: %+v", overview)
	}
}

func TestStatusWithoutDaemonReadsStore(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "none.sock")

	out, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
}

func TestFocusQueuesRequest(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"focus", "o1"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("focus: %v", err)
	}
}

func TestClientCommandsWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "none.sock")

	_, _, err := runCLI(t, []string{"focus", "o1"}, missing, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "ferry daemon start") {
		t.Fatalf("expected start hint, got %v", err)
	}

	out, _, err := runCLI(t, []string{"daemon", "stop"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestDaemonLaunchOptionsCarryFlags(t *testing.T) {
	socket := " /tmp/f.sock "
	configPath := "/etc/ferry.toml"
	ctx := newCommandContext(&socket, &configPath)

	opts := daemonLaunchOptions(ctx, "debug")
	if opts.SocketPath != "/tmp/f.sock" || opts.ConfigPath != configPath || opts.LogLevel != "debug" {
		t.Fatalf("unexpected launch options: %+v", opts)
	}
}
