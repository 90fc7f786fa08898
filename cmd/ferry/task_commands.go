package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ferry/internal/decoder"
	"ferry/internal/session"
	"ferry/internal/stores"
	"ferry/internal/tasks"
	"ferry/internal/upstream"
)

const taskWaitInterval = 200 * time.Millisecond

func newTaskCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and inspect upstream tasks",
	}
	cmd.AddCommand(newTaskCreateCommand(ctx))
	cmd.AddCommand(newTaskShowCommand(ctx))
	cmd.AddCommand(newTaskListCommand(ctx))
	cmd.AddCommand(newTaskStatsCommand(ctx))
	cmd.AddCommand(newTaskFailCommand(ctx))
	cmd.AddCommand(newTaskCleanupCommand(ctx))
	return cmd
}

func (c *commandContext) withQueue(ctx context.Context, fn func(*tasks.Queue) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, queue, err := stores.OpenQueue(ctx, cfg, c.cliLogger())
	if err != nil {
		return fmt.Errorf("open task queue: %w", err)
	}
	defer store.Close()
	return fn(queue)
}

func newTaskCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		owner       string
		kind        string
		system      string
		model       string
		temperature float64
		maxTokens   int
		wait        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <prompt>...",
		Short: "Create a completion task for an owner",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return errors.New("--owner is required")
			}
			req := upstream.Request{Model: strings.TrimSpace(model), MaxTokens: maxTokens}
			if strings.TrimSpace(system) != "" {
				req.Messages = append(req.Messages, upstream.Message{Role: upstream.RoleSystem, Content: system})
			}
			req.Messages = append(req.Messages, upstream.Message{Role: upstream.RoleUser, Content: strings.Join(args, " ")})
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				id, err := sess.CreateTask(cmd.Context(), owner, kind, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wait <= 0 {
					fmt.Fprintf(out, "Task %s created for %s\n", id, owner)
					return nil
				}
				task, err := waitForTerminal(cmd.Context(), sess.Queue(), id, wait)
				if err != nil {
					return err
				}
				return renderTaskResult(out, task)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner the task belongs to")
	cmd.Flags().StringVar(&kind, "kind", "reply", "Task kind label")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature override (0..2)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token limit override")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the task to finish")
	return cmd
}

func waitForTerminal(ctx context.Context, queue *tasks.Queue, id string, timeout time.Duration) (tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(taskWaitInterval)
	defer ticker.Stop()
	for {
		task, err := queue.Get(ctx, id)
		if err != nil {
			return tasks.Task{}, err
		}
		if task.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, fmt.Errorf("task %s still %s after %s", id, task.Status, timeout)
		case <-ticker.C:
		}
	}
}

func renderTaskResult(out io.Writer, task tasks.Task) error {
	if task.Status == tasks.StatusFailed {
		return fmt.Errorf("task %s failed: %s", task.ID, task.Error)
	}
	var outcome decoder.Outcome
	if err := task.DecodeResult(&outcome); err != nil {
		return fmt.Errorf("decode task result: %w", err)
	}
	for _, line := range outcomeLines(outcome) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func outcomeLines(outcome decoder.Outcome) []string {
	lines := make([]string, 0, len(outcome.Items))
	for _, item := range outcome.Items {
		lines = append(lines, itemLine(item))
	}
	return lines
}

func itemLine(item decoder.Item) string {
	sender := item.Sender
	if sender == "" {
		sender = "*"
	}
	switch item.Kind {
	case decoder.KindSticker:
		return fmt.Sprintf("%s: [sticker %s]", sender, item.Sticker)
	case decoder.KindImage:
		if item.Image != nil {
			return fmt.Sprintf("%s: [image %s]", sender, item.Image.Description)
		}
	case decoder.KindGift:
		if item.Gift != nil {
			line := fmt.Sprintf("%s: [gift %s %s]", sender, humanize.CommafWithDigits(item.Gift.Amount, 2), item.Gift.Currency)
			if item.Gift.Note != "" {
				line += " " + item.Gift.Note
			}
			return strings.TrimSpace(line)
		}
	case decoder.KindNotice:
		return "-- " + item.Text + " --"
	}
	return fmt.Sprintf("%s: %s", sender, item.Text)
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(queue *tasks.Queue) error {
				task, err := queue.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, task)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:       %s\n", task.ID)
				fmt.Fprintf(out, "Owner:    %s\n", task.OwnerID)
				fmt.Fprintf(out, "Kind:     %s\n", task.Kind)
				fmt.Fprintf(out, "Status:   %s\n", task.Status)
				fmt.Fprintf(out, "Created:  %s (%s)\n", task.CreatedAt.Local().Format(time.DateTime), humanize.Time(task.CreatedAt))
				fmt.Fprintf(out, "Updated:  %s (%s)\n", task.UpdatedAt.Local().Format(time.DateTime), humanize.Time(task.UpdatedAt))
				switch task.Status {
				case tasks.StatusFailed:
					fmt.Fprintf(out, "Error:    %s\n", task.Error)
				case tasks.StatusCompleted:
					fmt.Fprintln(out)
					return renderTaskResult(out, task)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var (
		owner    string
		statuses []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]tasks.Status, 0, len(statuses))
			for _, raw := range statuses {
				status, ok := tasks.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter = append(filter, status)
			}
			return ctx.withQueue(cmd.Context(), func(queue *tasks.Queue) error {
				var (
					list []tasks.Task
					err  error
				)
				if strings.TrimSpace(owner) != "" {
					list, err = queue.ListByOwner(cmd.Context(), owner)
					list = filterStatuses(list, filter)
				} else {
					list, err = queue.List(cmd.Context(), filter...)
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, t := range list {
					rows = append(rows, []string{t.ID, t.OwnerID, t.Kind, string(t.Status), humanize.Time(t.UpdatedAt), t.Error})
				}
				fmt.Fprint(out, renderTable([]string{"ID", "Owner", "Kind", "Status", "Updated", "Error"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only list this owner's tasks")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list tasks in these statuses")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func filterStatuses(list []tasks.Task, statuses []tasks.Status) []tasks.Task {
	if len(statuses) == 0 {
		return list
	}
	out := list[:0]
	for _, t := range list {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func newTaskStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tasks per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(queue *tasks.Queue) error {
				stats, err := queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				counts := make(map[string]int, len(stats))
				for status, n := range stats {
					counts[string(status)] = n
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, queueStatusRows(counts),
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newTaskFailCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a task failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(queue *tasks.Queue) error {
				if err := queue.Fail(cmd.Context(), args[0], reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s marked failed\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "Error text recorded on the task")
	return cmd
}

func newTaskCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished tasks older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = time.Duration(ctx.configValue().Daemon.TaskRetentionHours) * time.Hour
			}
			return ctx.withQueue(cmd.Context(), func(queue *tasks.Queue) error {
				removed, err := queue.Cleanup(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished task(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (default: daemon.task_retention_hours)")
	return cmd
}
