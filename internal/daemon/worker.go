package daemon

import (
	"context"
	"errors"
	"time"

	"ferry/internal/dispatch"
	"ferry/internal/logging"
	"ferry/internal/tasks"
)

func (d *Daemon) worker(ctx context.Context, id int, jobs <-chan dispatch.DispatchMessage) {
	defer d.wg.Done()
	d.logger.Debug("worker started", logging.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			d.process(ctx, msg)
		}
	}
}

// process runs one task: mark processing, execute, record the terminal state.
// The result reaches pages through deliver, which the dispatcher calls after
// the write succeeds.
func (d *Daemon) process(ctx context.Context, msg dispatch.DispatchMessage) {
	taskCtx := logging.WithTask(ctx, msg.OwnerID, msg.TaskID)
	logger := logging.WithContext(taskCtx, d.logger)

	if err := d.queue.UpdateStatus(taskCtx, msg.TaskID, tasks.StatusProcessing, ""); err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			logger.Debug("task vanished before execution", logging.String(logging.FieldEventType, "task_skipped"))
			return
		}
		logging.WarnWithContext(logger, "failed to mark task processing", "task_status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task runs while still reported pending"),
		)
	}

	result := d.executor.Run(taskCtx, msg)
	if ctx.Err() != nil && !result.Succeeded() {
		logger.Info("task interrupted by shutdown", logging.String(logging.FieldEventType, "task_interrupted"))
		if err := d.queue.UpdateStatus(context.WithoutCancel(taskCtx), msg.TaskID, tasks.StatusPending, ""); err != nil {
			logger.Debug("failed to reset interrupted task", logging.Error(err))
		}
		return
	}
	if err := d.dispatcher.HandleResult(context.WithoutCancel(taskCtx), result); err != nil {
		logging.ErrorWithContext(logger, "failed to record task result", "task_result_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task result lost; task stays processing"),
			logging.String(logging.FieldErrorHint, "check the store with ferry status"),
		)
	}
}

// deliver publishes an applied result to the owner's mailbox and sends a
// notification.
func (d *Daemon) deliver(ctx context.Context, msg dispatch.ResultMessage) {
	if d.mailbox.Publish(dispatch.NewResultEnvelope(msg)) {
		logging.WarnWithContext(d.logger, "mailbox full; oldest envelope dropped", "mailbox_overflow",
			logging.String(logging.FieldOwnerID, msg.OwnerID),
			logging.String(logging.FieldImpact, "the page reads the dropped result from the store instead"),
			logging.String(logging.FieldErrorHint, "raise daemon.mailbox_size or keep a session attached"),
		)
	}

	kind := ""
	if task, err := d.queue.Get(ctx, msg.TaskID); err == nil {
		kind = task.Kind
	}
	var err error
	if msg.Succeeded() {
		err = d.notifier.NotifyTaskCompleted(ctx, msg.OwnerID, msg.TaskID, kind, len(msg.Outcome.Items))
	} else {
		err = d.notifier.NotifyTaskFailed(ctx, msg.OwnerID, msg.TaskID, kind, msg.ErrorText)
	}
	if err != nil {
		logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "user is not alerted about the finished task"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (d *Daemon) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := time.Duration(d.cfg.Daemon.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.cleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *Daemon) cleanup(ctx context.Context) {
	retention := time.Duration(d.cfg.Daemon.TaskRetentionHours) * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	removed, err := d.queue.Cleanup(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "task cleanup failed", "task_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old terminal tasks stay in the store"),
				logging.String(logging.FieldErrorHint, "run ferry task cleanup manually"),
			)
		}
		return
	}
	d.lastCleanup.Store(time.Now())
	if removed > 0 {
		d.logger.Info("old tasks removed",
			logging.String(logging.FieldEventType, "task_cleanup"),
			logging.Int("removed", removed),
		)
	}
}
