package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/logs"
)

const logFollowWait = 2 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show ferryd's log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !logs.ValidLevel(filter.MinLevel) {
				return fmt.Errorf("unknown level %q", filter.MinLevel)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogPath()

			runCtx := cmd.Context()
			if follow {
				var stop context.CancelFunc
				runCtx, stop = signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}

			out := cmd.OutOrStdout()
			result, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			offset := result.Offset
			for follow {
				result, err := logs.Tail(runCtx, path, logs.TailOptions{
					Offset: offset,
					Follow: true,
					Wait:   logFollowWait,
					Filter: filter,
				})
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				offset = result.Offset
				if runCtx.Err() != nil {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&filter.TaskID, "task", "", "Only show records for this task id")
	cmd.Flags().StringVar(&filter.OwnerID, "owner", "", "Only show records for this owner")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
