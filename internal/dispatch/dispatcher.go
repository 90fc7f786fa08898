package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ferry/internal/decoder"
	"ferry/internal/logging"
	"ferry/internal/tasks"
	"ferry/internal/upstream"
)

// ErrDispatchUnavailable reports that the background executor cannot be
// reached. It selects the fallback branch and is never returned to callers.
var ErrDispatchUnavailable = errors.New("background executor unavailable")

// Channel is the page's link to the background executor.
type Channel interface {
	// Reachable performs a one-time reachability check.
	Reachable(ctx context.Context) error
	Send(ctx context.Context, msg DispatchMessage) error
}

// Completer writes terminal task states. *tasks.Queue satisfies it.
type Completer interface {
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id, errText string) error
}

type (
	FallbackHandler func(ctx context.Context, fb Fallback)
	Navigator       func(ctx context.Context, req FocusRequest)
	ResultListener  func(ctx context.Context, msg ResultMessage)
)

// Dispatcher routes new tasks to the background executor or to the page's
// fallback handler, and applies result messages to the task queue.
type Dispatcher struct {
	channel   Channel
	completer Completer
	logger    *slog.Logger

	mu        sync.RWMutex
	fallback  FallbackHandler
	navigator Navigator
	listeners []ResultListener

	inflight sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFallbackHandler sets the handler run when a task cannot be sent.
func WithFallbackHandler(h FallbackHandler) Option {
	return func(d *Dispatcher) { d.fallback = h }
}

// WithNavigator sets the handler for focus requests.
func WithNavigator(n Navigator) Option {
	return func(d *Dispatcher) { d.navigator = n }
}

// WithResultListener adds a listener informed after each applied result.
func WithResultListener(l ResultListener) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
}

// New returns a dispatcher. A nil channel routes every task to fallback.
func New(channel Channel, completer Completer, opts ...Option) *Dispatcher {
	d := &Dispatcher{channel: channel, completer: completer, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "dispatch")
	return d
}

// SetFallbackHandler replaces the fallback handler.
func (d *Dispatcher) SetFallbackHandler(h FallbackHandler) {
	d.mu.Lock()
	d.fallback = h
	d.mu.Unlock()
}

// SetNavigator replaces the focus handler.
func (d *Dispatcher) SetNavigator(n Navigator) {
	d.mu.Lock()
	d.navigator = n
	d.mu.Unlock()
}

// AddResultListener registers a listener informed after each applied result.
func (d *Dispatcher) AddResultListener(l ResultListener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// Dispatch checks reachability once. When reachable it sends exactly one
// DispatchMessage; otherwise, or when the send fails, it raises exactly one
// Fallback. A payload that is not a valid request descriptor fails the task.
// Fallback handlers run asynchronously; Wait blocks until they return.
func (d *Dispatcher) Dispatch(ctx context.Context, task tasks.Task) {
	logger := logging.WithContext(logging.WithTask(ctx, task.OwnerID, task.ID), d.logger)

	var req upstream.Request
	err := task.DecodePayload(&req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		d.failInvalid(ctx, logger, task, err)
		return
	}
	msg := DispatchMessage{TaskID: task.ID, OwnerID: task.OwnerID, Request: req}

	if d.channel == nil {
		d.raiseFallback(ctx, logger, task, msg, ErrDispatchUnavailable)
		return
	}
	if err := d.channel.Reachable(ctx); err != nil {
		d.raiseFallback(ctx, logger, task, msg, fmt.Errorf("%w: %v", ErrDispatchUnavailable, err))
		return
	}
	if err := d.channel.Send(ctx, msg); err != nil {
		d.raiseFallback(ctx, logger, task, msg, fmt.Errorf("%w: send: %v", ErrDispatchUnavailable, err))
		return
	}
	logger.Info("task dispatched to background executor",
		logging.String(logging.FieldEventType, "task_dispatched"),
		logging.String(logging.FieldKind, task.Kind),
	)
}

func (d *Dispatcher) failInvalid(ctx context.Context, logger *slog.Logger, task tasks.Task, cause error) {
	diagnostic := fmt.Sprintf("invalid request descriptor: %v (payload: %s)", cause, decoder.Snippet(string(task.Payload), 200))
	logging.WarnWithContext(logger, "task payload rejected", "task_payload_invalid",
		logging.Error(cause),
		logging.String(logging.FieldImpact, "task marked failed without contacting the provider"),
		logging.String(logging.FieldErrorHint, "create tasks with a payload holding a messages array"),
	)
	if d.completer == nil {
		return
	}
	if err := d.completer.Fail(ctx, task.ID, diagnostic); err != nil {
		logging.ErrorWithContext(logger, "failed to record task failure", "task_fail_write_failed", logging.Error(err))
	}
}

func (d *Dispatcher) raiseFallback(ctx context.Context, logger *slog.Logger, task tasks.Task, msg DispatchMessage, reason error) {
	d.mu.RLock()
	handler := d.fallback
	d.mu.RUnlock()

	if handler == nil {
		logging.WarnWithContext(logger, "background executor unreachable and no fallback handler attached", "task_fallback_unhandled",
			logging.Error(reason),
			logging.String(logging.FieldImpact, "task stays pending until a page runs it"),
			logging.String(logging.FieldErrorHint, "start ferryd or run ferry session"),
		)
		return
	}
	logger.Info("task routed to fallback",
		logging.String(logging.FieldEventType, "task_fallback"),
		logging.String("reason", reason.Error()),
	)
	fb := Fallback{Task: task, Message: msg, Reason: reason}
	fbCtx := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		handler(fbCtx, fb)
	}()
}

// Wait blocks until every running fallback handler has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// HandleResult applies msg to the task queue. An unknown or already cleaned
// up task id is logged at debug level and dropped.
func (d *Dispatcher) HandleResult(ctx context.Context, msg ResultMessage) error {
	logger := logging.WithContext(logging.WithTask(ctx, msg.OwnerID, msg.TaskID), d.logger)
	if err := msg.Validate(); err != nil {
		logging.WarnWithContext(logger, "dropping malformed result message", "result_malformed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task keeps its previous state"),
		)
		return err
	}
	if d.completer == nil {
		return errors.New("dispatcher has no completer")
	}

	var err error
	if msg.Succeeded() {
		err = d.completer.Complete(ctx, msg.TaskID, msg.Outcome)
	} else {
		err = d.completer.Fail(ctx, msg.TaskID, msg.ErrorText)
	}
	if errors.Is(err, tasks.ErrTaskNotFound) {
		logger.Debug("result for unknown task dropped",
			logging.String(logging.FieldEventType, "result_dropped"),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply result for task %s: %w", msg.TaskID, err)
	}

	d.mu.RLock()
	listeners := append([]ResultListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, msg)
	}
	return nil
}

// HandleFocus passes req to the navigator.
func (d *Dispatcher) HandleFocus(ctx context.Context, req FocusRequest) {
	d.mu.RLock()
	nav := d.navigator
	d.mu.RUnlock()
	if nav == nil {
		d.logger.Debug("focus request ignored; no navigator", logging.String(logging.FieldOwnerID, req.OwnerID))
		return
	}
	nav(ctx, req)
}

// HandleEnvelope demultiplexes a page envelope.
func (d *Dispatcher) HandleEnvelope(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EnvelopeResult:
		if env.Result == nil {
			return errors.New("result envelope without result")
		}
		return d.HandleResult(ctx, *env.Result)
	case EnvelopeFocus:
		if env.Focus == nil {
			return errors.New("focus envelope without request")
		}
		d.HandleFocus(ctx, *env.Focus)
		return nil
	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}
}
