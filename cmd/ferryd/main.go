package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ferry/internal/config"
	"ferry/internal/daemonrun"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "ferryd: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag, socketFlag, logLevelFlag string

	rootCmd := &cobra.Command{
		Use:           "ferryd",
		Short:         "Run the ferry background executor",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFlag, socketFlag, logLevelFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Override paths.socket_path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override logging.level")

	return rootCmd
}

func run(ctx context.Context, configPath, socketPath, logLevel string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socketPath != "" {
		cfg.Paths.SocketPath = socketPath
	}
	return daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: logLevel})
}
