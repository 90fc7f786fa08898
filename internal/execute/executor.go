package execute

import (
	"context"
	"log/slog"
	"time"

	"ferry/internal/decoder"
	"ferry/internal/dispatch"
	"ferry/internal/logging"
	"ferry/internal/upstream"
)

// Provider performs one upstream completion. *upstream.Client satisfies it.
type Provider interface {
	Complete(ctx context.Context, req upstream.Request) (string, error)
}

// Executor turns a DispatchMessage into a ResultMessage: one provider call
// followed by decoding. The daemon workers and the page fallback share it.
type Executor struct {
	provider Provider
	decoder  *decoder.Decoder
	logger   *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDecoder overrides the result decoder.
func WithDecoder(d *decoder.Decoder) Option {
	return func(e *Executor) {
		if d != nil {
			e.decoder = d
		}
	}
}

// New returns an executor backed by provider.
func New(provider Provider, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		decoder:  decoder.New(decoder.EnvelopeSchema),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "execute")
	return e
}

// Run calls the provider and decodes its text. It always returns a result
// message carrying either an outcome or error text.
func (e *Executor) Run(ctx context.Context, msg dispatch.DispatchMessage) dispatch.ResultMessage {
	logger := logging.WithContext(logging.WithTask(ctx, msg.OwnerID, msg.TaskID), e.logger)
	result := dispatch.ResultMessage{TaskID: msg.TaskID, OwnerID: msg.OwnerID}

	start := time.Now()
	text, err := e.provider.Complete(ctx, msg.Request)
	if err != nil {
		logging.WarnWithContext(logger, "upstream request failed", "upstream_failed",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldImpact, "task will be marked failed"),
			logging.String(logging.FieldErrorHint, "check llm.api_key, llm.base_url and provider status"),
		)
		result.ErrorText = err.Error()
		return result
	}

	outcome, err := e.decoder.Decode(text)
	if err != nil {
		logging.WarnWithContext(logger, "upstream response not decodable", "response_format_invalid",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task will be marked failed"),
			logging.String(logging.FieldErrorHint, "the model must answer with a JSON object holding a messages array"),
		)
		result.ErrorText = err.Error()
		return result
	}

	logger.Info("task executed",
		logging.String(logging.FieldEventType, "task_executed"),
		logging.Int("items", len(outcome.Items)),
		logging.String("strategy", outcome.Strategy),
		logging.Duration("elapsed", time.Since(start)),
	)
	result.Outcome = &outcome
	return result
}

// ResultRecorder applies a result to the task queue. *dispatch.Dispatcher
// satisfies it.
type ResultRecorder interface {
	HandleResult(ctx context.Context, msg dispatch.ResultMessage) error
}

// Fallback returns a dispatch.FallbackHandler that runs the executor in
// process and records the terminal state through recorder.
func (e *Executor) Fallback(recorder ResultRecorder) dispatch.FallbackHandler {
	return func(ctx context.Context, fb dispatch.Fallback) {
		logger := logging.WithContext(logging.WithTask(ctx, fb.Task.OwnerID, fb.Task.ID), e.logger)
		logger.Info("running task in process",
			logging.String(logging.FieldEventType, "fallback_started"),
			logging.String("reason", errorString(fb.Reason)),
		)
		result := e.Run(ctx, fb.Message)
		if err := recorder.HandleResult(ctx, result); err != nil {
			logging.ErrorWithContext(logger, "failed to record fallback result", "fallback_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "task may stay pending"),
				logging.String(logging.FieldErrorHint, "check the store with ferry status"),
			)
		}
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
