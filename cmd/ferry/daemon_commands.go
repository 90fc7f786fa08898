package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/daemonctl"
	"ferry/internal/daemonrun"
	"ferry/internal/ipc"
	"ferry/internal/session"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control ferryd",
	}

	var runLogLevel string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run ferryd in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: runLogLevel})
		},
	}
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override logging.level")

	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start ferryd in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx, startLogLevel), 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop ferryd",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart ferryd",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(ctx.socketPath(), ctx.configValue(), exe,
				daemonLaunchOptions(ctx, ""), 5*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	cmd.AddCommand(runCmd, startCmd, stopCmd, restartCmd)
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ferryd and task queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			overview, err := session.Inspect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, overview)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemLines(overview, cfg.Notifications.NtfyTopic != "", cfg.LLM.APIKey != "") {
				fmt.Fprintln(stdout, renderStatusLine(line.label, line.kind, line.detail, colorize))
			}
			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Task Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, queueStatusRows(overview.QueueStats),
				[]columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

type statusLine struct {
	label  string
	kind   statusKind
	detail string
}

func systemLines(o session.Overview, notifications, apiKey bool) []statusLine {
	lines := make([]statusLine, 0, 6)
	if o.DaemonRunning {
		lines = append(lines,
			statusLine{"ferryd", statusOK, "Running (pid " + strconv.Itoa(o.PID) + ")"},
			statusLine{"Workers", statusInfo, strconv.Itoa(o.Workers)},
			statusLine{"Undelivered", statusInfo, strconv.Itoa(o.Backlog) + " envelope(s)"},
		)
		if o.LastCleanup != "" {
			lines = append(lines, statusLine{"Last cleanup", statusInfo, o.LastCleanup})
		}
	} else {
		lines = append(lines, statusLine{"ferryd", statusWarn, "Not running (tasks run in the creating process)"})
	}
	lines = append(lines, statusLine{"Store", statusInfo, o.DBPath})
	if apiKey {
		lines = append(lines, statusLine{"LLM", statusOK, "API key configured"})
	} else {
		lines = append(lines, statusLine{"LLM", statusError, "API key missing (set llm.api_key or FERRY_LLM_API_KEY)"})
	}
	if notifications {
		lines = append(lines, statusLine{"Notifications", statusOK, "Configured"})
	} else {
		lines = append(lines, statusLine{"Notifications", statusInfo, "Not configured"})
	}
	return lines
}

func newFocusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "focus <owner>",
		Short: "Ask the page watching an owner to bring it to the front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Focus(args[0])
				if err != nil {
					return err
				}
				if resp.Queued {
					fmt.Fprintf(cmd.OutOrStdout(), "Focus request queued for %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through ferryd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: logLevel}
	if ctx.socketFlag != nil {
		opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
	}
	opts.ConfigPath = ctx.configPath()
	return opts
}
