package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/execute"
	"ferry/internal/ipc"
	"ferry/internal/logging"
	"ferry/internal/stores"
	"ferry/internal/upstream"
)

// PIDFileName is the pid file ferryd writes into the data directory.
const PIDFileName = "ferryd.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Provider overrides the upstream client built from config.
	Provider execute.Provider
}

// PIDPath returns the pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, PIDFileName)
}

// Run starts ferryd and blocks until a signal arrives, ctx ends, or a
// client stops the daemon over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    cfg.LogPath(),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logConfigSnapshot(logger, cfg)

	store, queue, err := stores.OpenQueue(signalCtx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "open task store failed", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check data_dir permissions or remove a corrupt ferry.db"),
		)
		return err
	}
	defer store.Close()

	provider := opts.Provider
	if provider == nil {
		provider = upstream.NewClient(upstream.ConfigFromSettings(cfg))
	}
	executor := execute.New(provider, execute.WithLogger(logger))

	d, err := daemon.New(cfg, queue, executor, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The lock decides ownership of the socket, so take it before binding.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("ferryd ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", ipcServer.Path()),
		logging.Int("pid", os.Getpid()),
	)

	select {
	case <-signalCtx.Done():
		logger.Info("ferryd shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	case <-d.Stopped():
		logger.Info("ferryd stopped by request", logging.String(logging.FieldEventType, "daemon_shutdown"))
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_base_url", cfg.LLM.BaseURL),
		logging.String("llm_model", cfg.LLM.Model),
		logging.Int("workers", cfg.Daemon.Workers),
		logging.Int("store_version", cfg.Store.Version),
		logging.Bool("notifications_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.String("socket", cfg.Paths.SocketPath),
	)
}
