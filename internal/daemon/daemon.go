package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ferry/internal/config"
	"ferry/internal/dispatch"
	"ferry/internal/execute"
	"ferry/internal/logging"
	"ferry/internal/notifications"
	"ferry/internal/tasks"
)

var (
	// ErrNotRunning reports a call that needs the worker pool while it is stopped.
	ErrNotRunning = errors.New("daemon not running")
	// ErrBacklogFull reports that the job queue has no room; the page falls back.
	ErrBacklogFull = errors.New("daemon backlog full")
)

// Daemon is the background execution context. It runs dispatched tasks on a
// worker pool, records their terminal state, and queues result envelopes
// for pages to collect.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	queue      *tasks.Queue
	executor   *execute.Executor
	dispatcher *dispatch.Dispatcher
	notifier   notifications.Service
	mailbox    *Mailbox

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	jobs    chan dispatch.DispatchMessage
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}

	lastCleanup atomic.Value
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	PID         int
	Workers     int
	QueueStats  map[tasks.Status]int
	Backlog     int
	Pending     int
	Dropped     int64
	StorePath   string
	LockPath    string
	LastCleanup time.Time
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithNotifier overrides the notification service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, queue *tasks.Queue, executor *execute.Executor, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || queue == nil || executor == nil {
		return nil, errors.New("daemon requires config, task queue, and executor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		queue:    queue,
		executor: executor,
		notifier: notifications.NewService(cfg),
		mailbox:  NewMailbox(cfg.Daemon.MailboxSize),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.dispatcher = dispatch.New(nil, queue,
		dispatch.WithLogger(logger),
		dispatch.WithResultListener(d.deliver),
	)
	return d, nil
}

// Start acquires the single-instance lock and launches the worker pool and
// the cleanup loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ferryd instance is already running")
	}

	workers := d.cfg.Daemon.Workers
	if workers <= 0 {
		workers = 1
	}
	size := d.cfg.Daemon.QueueSize
	if size <= 0 {
		size = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.jobs = make(chan dispatch.DispatchMessage, size)
	for i := range workers {
		d.wg.Add(1)
		go d.worker(runCtx, i+1, d.jobs)
	}
	d.wg.Add(1)
	go d.cleanupLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("ferryd started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("workers", workers),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. Jobs still
// queued are abandoned; their tasks stay pending.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return
	}
	d.running.Store(false)
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next ferryd start may report a running instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no ferryd is running"),
		)
	}
	select {
	case <-d.stopped:
	default:
		close(d.stopped)
	}
	d.logger.Info("ferryd stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Stopped is closed once the daemon has been stopped.
func (d *Daemon) Stopped() <-chan struct{} {
	return d.stopped
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Submit queues msg for a worker. It never blocks: a full backlog returns
// ErrBacklogFull so the page can run the task itself.
func (d *Daemon) Submit(ctx context.Context, msg dispatch.DispatchMessage) error {
	if strings.TrimSpace(msg.TaskID) == "" {
		return errors.New("dispatch message missing task id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return ErrNotRunning
	}
	select {
	case d.jobs <- msg:
	default:
		return ErrBacklogFull
	}
	logging.WithContext(logging.WithTask(ctx, msg.OwnerID, msg.TaskID), d.logger).Debug("task accepted",
		logging.String(logging.FieldEventType, "task_accepted"),
	)
	return nil
}

// Poll waits up to wait for envelopes addressed to owners.
func (d *Daemon) Poll(ctx context.Context, owners []string, limit int, wait time.Duration) []dispatch.Envelope {
	return d.mailbox.Wait(ctx, owners, limit, wait)
}

// Focus queues a focus request for the owner's page.
func (d *Daemon) Focus(req dispatch.FocusRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return errors.New("focus request missing owner id")
	}
	d.mailbox.Publish(dispatch.NewFocusEnvelope(req))
	return nil
}

// Mailbox exposes the envelope queue.
func (d *Daemon) Mailbox() *Mailbox {
	return d.mailbox
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		Workers:   d.cfg.Daemon.Workers,
		Backlog:   d.mailbox.Backlog(),
		Dropped:   d.mailbox.Dropped(),
		StorePath: d.cfg.StorePath(),
		LockPath:  d.lockPath,
	}
	d.mu.Lock()
	if d.jobs != nil && status.Running {
		status.Pending = len(d.jobs)
	}
	d.mu.Unlock()
	if v, ok := d.lastCleanup.Load().(time.Time); ok {
		status.LastCleanup = v
	}
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		d.logger.Debug("queue stats unavailable", logging.Error(err))
	} else {
		status.QueueStats = stats
	}
	return status
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
