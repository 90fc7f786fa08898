package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferry/internal/kvstore"
	"ferry/internal/logging"
)

// Partition is the kvstore partition holding task records.
const Partition = "tasks"

// Dispatcher hands a freshly persisted task to whoever will execute it.
// Dispatch reports nothing back; outcomes arrive later as terminal writes.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task)
}

// Queue persists tasks and drives their status machine.
type Queue struct {
	store  *kvstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	dispatcher Dispatcher
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps and cleanup.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New returns a queue over store, which must declare the tasks partition.
func New(store *kvstore.Store, opts ...Option) (*Queue, error) {
	if store == nil || !store.HasPartition(Partition) {
		return nil, fmt.Errorf("task queue requires a store with the %q partition", Partition)
	}
	q := &Queue{store: store, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.NewComponentLogger(q.logger, "tasks")
	return q, nil
}

// SetDispatcher attaches the dispatcher invoked by Create. A nil dispatcher
// leaves new tasks pending.
func (q *Queue) SetDispatcher(d Dispatcher) {
	q.mu.Lock()
	q.dispatcher = d
	q.mu.Unlock()
}

func (q *Queue) currentDispatcher() Dispatcher {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dispatcher
}

// NewID returns a time-ordered task identifier: a millisecond timestamp followed by random bits.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return id.String(), nil
}

// Create persists a pending task and then dispatches it. The task is readable
// through Get before dispatch begins.
func (q *Queue) Create(ctx context.Context, ownerID, kind string, payload any) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	kind = strings.TrimSpace(kind)
	if ownerID == "" {
		return "", errors.New("create task: owner id is required")
	}
	if kind == "" {
		return "", errors.New("create task: kind is required")
	}
	raw, err := marshalRaw(payload)
	if err != nil {
		return "", fmt.Errorf("create task: encode payload: %w", err)
	}
	id, err := NewID()
	if err != nil {
		return "", err
	}

	now := q.now().UTC()
	task := Task{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   raw,
	}
	if err := q.save(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	q.logger.Info("task created",
		logging.String(logging.FieldEventType, "task_created"),
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldOwnerID, ownerID),
		logging.String(logging.FieldKind, kind),
	)

	if d := q.currentDispatcher(); d != nil {
		d.Dispatch(logging.WithTask(ctx, ownerID, id), task)
	}
	return id, nil
}

// Get returns the task with id.
func (q *Queue) Get(ctx context.Context, id string) (Task, error) {
	var task Task
	found, err := q.store.Get(ctx, Partition, id, &task)
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	if !found {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// Complete marks the task completed with result. An already terminal task is
// overwritten; the last write wins. Re-applying the state the task already
// holds changes nothing.
func (q *Queue) Complete(ctx context.Context, id string, result any) error {
	raw, err := marshalRaw(result)
	if err != nil {
		return fmt.Errorf("complete task %s: encode result: %w", id, err)
	}
	return q.transition(ctx, id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = raw
		t.Error = ""
	})
}

// Fail marks the task failed with errText. An already terminal task is
// overwritten; the last write wins. Re-applying the same failure changes nothing.
func (q *Queue) Fail(ctx context.Context, id, errText string) error {
	errText = strings.TrimSpace(errText)
	if errText == "" {
		errText = "unknown error"
	}
	return q.transition(ctx, id, func(t *Task) {
		t.Status = StatusFailed
		t.Result = nil
		t.Error = errText
	})
}

// UpdateStatus moves the task to status. Pending and processing clear any
// result and error; failed requires errText; completed must go through Complete.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status Status, errText string) error {
	parsed, ok := ParseStatus(string(status))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	switch parsed {
	case StatusCompleted:
		return fmt.Errorf("update task %s: %w", id, ErrResultRequired)
	case StatusFailed:
		if strings.TrimSpace(errText) == "" {
			return fmt.Errorf("%w: failed status requires an error message", ErrInvalidStatus)
		}
		return q.Fail(ctx, id, errText)
	}
	return q.transition(ctx, id, func(t *Task) {
		t.Status = parsed
		t.Result = nil
		t.Error = ""
	})
}

func (q *Queue) transition(ctx context.Context, id string, apply func(*Task)) error {
	task, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	previous := task
	apply(&task)
	if previous.IsTerminal() && sameTerminalState(previous, task) {
		// A result delivered twice (daemon, then page) leaves the record untouched.
		q.logger.Debug("terminal state already applied",
			logging.String(logging.FieldEventType, "task_status_unchanged"),
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldOwnerID, task.OwnerID),
			logging.String("status", string(task.Status)),
		)
		return nil
	}
	task.UpdatedAt = q.now().UTC()
	if err := q.save(ctx, task); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "task_status_changed"),
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldOwnerID, task.OwnerID),
		logging.String("from", string(previous.Status)),
		logging.String("to", string(task.Status)),
	}
	if previous.IsTerminal() {
		attrs = append(attrs, logging.Bool("overwrote_terminal", true))
	}
	if task.Error != "" {
		attrs = append(attrs, logging.String("task_error", task.Error))
	}
	q.logger.Info("task status changed", logging.Args(attrs...)...)
	return nil
}

// ListByOwner returns the owner's tasks in creation order, ties broken by id.
func (q *Queue) ListByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	all, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

// List returns tasks in creation order, restricted to statuses when any are given.
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]Task, error) {
	all, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return all, nil
	}
	want := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	out := all[:0]
	for _, t := range all {
		if _, ok := want[t.Status]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Cleanup deletes completed and failed tasks last updated more than maxAge
// ago. Pending and processing tasks are never removed.
func (q *Queue) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge < 0 {
		return 0, fmt.Errorf("cleanup: negative max age %s", maxAge)
	}
	all, err := q.all(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := q.now().UTC().Add(-maxAge)
	removed := 0
	for _, t := range all {
		if !t.IsTerminal() || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := q.store.Delete(ctx, Partition, t.ID); err != nil {
			return removed, fmt.Errorf("cleanup task %s: %w", t.ID, err)
		}
		removed++
	}
	if removed > 0 {
		q.logger.Info("task cleanup finished",
			logging.String(logging.FieldEventType, "task_cleanup"),
			logging.Int("removed", removed),
			logging.Duration("max_age", maxAge),
		)
	}
	return removed, nil
}

// Stats returns the number of tasks per status. Every known status is present.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	all, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[Status]int, len(allStatuses))
	for _, s := range allStatuses {
		stats[s] = 0
	}
	for _, t := range all {
		stats[t.Status]++
	}
	return stats, nil
}

func (q *Queue) all(ctx context.Context) ([]Task, error) {
	entries, err := q.store.GetAll(ctx, Partition)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(entries))
	for key, entry := range entries {
		var t Task
		if err := json.Unmarshal(entry.Data, &t); err != nil {
			logging.WarnWithContext(q.logger, "skipping unreadable task record", "task_record_corrupt",
				logging.String(logging.FieldTaskID, key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "task is hidden from listings until repaired or removed"),
				logging.String(logging.FieldErrorHint, "inspect with ferry kv get tasks "+key),
			)
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *Queue) save(ctx context.Context, task Task) error {
	return q.store.Set(ctx, Partition, task.ID, task)
}

func sameTerminalState(a, b Task) bool {
	return a.Status == b.Status && a.Error == b.Error && sameJSON(a.Result, b.Result)
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func marshalRaw(v any) (json.RawMessage, error) {
	switch typed := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(typed) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), typed...), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
