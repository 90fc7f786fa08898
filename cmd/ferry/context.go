package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"ferry/internal/blobcache"
	"ferry/internal/config"
	"ferry/internal/ipc"
	"ferry/internal/kvstore"
	"ferry/internal/logging"
	"ferry/internal/session"
	"ferry/internal/stores"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if c.socketFlag != nil {
			if socket := strings.TrimSpace(*c.socketFlag); socket != "" {
				cfg.Paths.SocketPath = socket
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil {
		if socket := strings.TrimSpace(*c.socketFlag); socket != "" {
			return socket
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.Paths.SocketPath
	}
	return ""
}

// cliLogger writes warnings and errors to stderr so stdout stays parseable.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		format := "console"
		if cfg := c.configValue(); cfg != nil && cfg.Logging.Format != "" {
			format = cfg.Logging.Format
		}
		logger, err := logging.New(logging.Options{Level: "warn", Format: format, OutputPaths: []string{"stderr"}})
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func (c *commandContext) withStore(ctx context.Context, fn func(*kvstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := stores.OpenShared(ctx, cfg, c.cliLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) withBlobs(ctx context.Context, fn func(*blobcache.Cache) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	cache, err := stores.OpenBlobs(ctx, cfg, c.cliLogger(), nil)
	if err != nil {
		return fmt.Errorf("open blob cache: %w", err)
	}
	defer cache.Close()
	return fn(cache)
}

// withSession opens a full page session. Tasks created through it go to
// ferryd when it answers and run in-process otherwise.
func (c *commandContext) withSession(ctx context.Context, fn func(*session.Session) error, opts ...session.Option) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	opts = append([]session.Option{session.WithLogger(c.cliLogger())}, opts...)
	sess, err := session.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	runErr := fn(sess)
	return errors.Join(runErr, sess.Close())
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `ferry daemon start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify ferryd is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
