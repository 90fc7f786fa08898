package logging_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferry/internal/config"
	"ferry/internal/logging"
)

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "console"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon ready", logging.String(logging.FieldEventType, "daemon_ready"))

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("expected JSON line in log file, got %q: %v", content, err)
	}
	if record["msg"] != "daemon ready" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("message with source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected source information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersTaskSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "subject.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithTask(context.Background(), "chat-7", "0190f2a4-aaaa-bbbb-cccc-000000000001")
	component := logging.NewComponentLogger(logger, "dispatch")
	logging.WithContext(ctx, component).Info("task dispatched", logging.Int("attempt", 1))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"INFO dispatch:", "[chat-7 · 0190f2a4]", "task dispatched", "attempt=1"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "task_id=") {
		t.Fatalf("expected task id folded into subject, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "migration skipped", "blob_migration_failed",
		logging.String(logging.FieldErrorHint, "rerun ferry blob ls"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record[logging.FieldEventType] != "blob_migration_failed" {
		t.Fatalf("unexpected event type: %v", record)
	}
	if record[logging.FieldErrorHint] != "rerun ferry blob ls" {
		t.Fatalf("expected explicit hint to win, got %v", record)
	}
	if record[logging.FieldImpact] == nil {
		t.Fatalf("expected default impact, got %v", record)
	}
}

func TestFormatSubject(t *testing.T) {
	tests := []struct {
		owner, task, want string
	}{
		{"", "", ""},
		{"chat-1", "", "chat-1"},
		{"", "abc", "abc"},
		{"chat-1", "0123456789", "chat-1 · 01234567"},
	}
	for _, tc := range tests {
		if got := logging.FormatSubject(tc.owner, tc.task); got != tc.want {
			t.Fatalf("FormatSubject(%q, %q) = %q, want %q", tc.owner, tc.task, got, tc.want)
		}
	}
}

func TestJSONLogMasksSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("upstream configured",
		logging.String("api_key", "sk-live-123"),
		slog.Group("llm", slog.String("API_KEY", "sk-live-456"), slog.String("model", "demo/model")),
		logging.String("authorization", ""),
	)

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "sk-live") {
		t.Fatalf("secret leaked into log file: %s", content)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode log line %q: %v", content, err)
	}
	if record["api_key"] != "[redacted]" || record["authorization"] != "" {
		t.Fatalf("unexpected masking: %v", record)
	}
	llm, _ := record["llm"].(map[string]any)
	if llm["API_KEY"] != "[redacted]" || llm["model"] != "demo/model" {
		t.Fatalf("unexpected nested masking: %v", record["llm"])
	}
}
