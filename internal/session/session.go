package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ferry/internal/blobcache"
	"ferry/internal/config"
	"ferry/internal/dispatch"
	"ferry/internal/execute"
	"ferry/internal/ipc"
	"ferry/internal/kvstore"
	"ferry/internal/logging"
	"ferry/internal/stores"
	"ferry/internal/tasks"
	"ferry/internal/upstream"
)

// Session is a page's view of ferry: the shared store, blob cache, task
// queue and dispatcher, plus caches scoped to this page. Everything a page
// caches lives here and is dropped by Invalidate.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *kvstore.Store
	blobs      *blobcache.Cache
	registry   *blobcache.Registry
	queue      *tasks.Queue
	dispatcher *dispatch.Dispatcher
	executor   *execute.Executor

	mu       sync.Mutex
	profiles map[string]Profile
	watched  map[string]struct{}

	historyMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Session.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	channel   dispatch.Channel
	noChannel bool
	provider  execute.Provider
	navigator dispatch.Navigator
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithChannel overrides the link to ferryd. A nil channel sends every task
// to the in-process fallback.
func WithChannel(ch dispatch.Channel) Option {
	return func(o *options) {
		o.channel = ch
		o.noChannel = ch == nil
	}
}

// WithProvider overrides the upstream provider used for fallback execution.
func WithProvider(p execute.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithNavigator sets the handler for focus requests.
func WithNavigator(n dispatch.Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// Open opens the stores and wires the dispatcher. Tasks go to ferryd over
// the configured socket and fall back to in-process execution.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("open session: config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.channel == nil && !o.noChannel {
		o.channel = ipc.NewLink(cfg.Paths.SocketPath)
	}
	if o.provider == nil {
		o.provider = upstream.NewClient(upstream.ConfigFromSettings(cfg))
	}

	store, queue, err := stores.OpenQueue(ctx, cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	registry := blobcache.NewRegistry()
	blobs, err := stores.OpenBlobs(ctx, cfg, o.logger, registry)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(o.logger, "session"),
		store:    store,
		blobs:    blobs,
		registry: registry,
		queue:    queue,
		executor: execute.New(o.provider, execute.WithLogger(o.logger)),
		profiles: make(map[string]Profile),
		watched:  make(map[string]struct{}),
	}
	s.dispatcher = dispatch.New(o.channel, queue,
		dispatch.WithLogger(o.logger),
		dispatch.WithNavigator(o.navigator),
		dispatch.WithResultListener(s.recordHistory),
	)
	s.dispatcher.SetFallbackHandler(s.executor.Fallback(s.dispatcher))
	queue.SetDispatcher(s.dispatcher)
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the shared key-value store.
func (s *Session) Store() *kvstore.Store { return s.store }

// Blobs returns the blob cache.
func (s *Session) Blobs() *blobcache.Cache { return s.blobs }

// Queue returns the task queue.
func (s *Session) Queue() *tasks.Queue { return s.queue }

// Dispatcher returns the page dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// CreateTask persists and dispatches a completion task for owner. The owner
// is watched so its results reach this page.
func (s *Session) CreateTask(ctx context.Context, ownerID, kind string, req upstream.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	s.Watch(ownerID)
	return s.queue.Create(ctx, ownerID, kind, req)
}

// Watch adds owners whose envelopes Run collects.
func (s *Session) Watch(owners ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, owner := range owners {
		if owner != "" {
			s.watched[owner] = struct{}{}
		}
	}
}

// Watched returns the watched owners in no particular order.
func (s *Session) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.watched))
	for owner := range s.watched {
		out = append(out, owner)
	}
	return out
}

// Invalidate drops every cached profile and revokes every live blob handle.
func (s *Session) Invalidate() {
	s.mu.Lock()
	dropped := len(s.profiles)
	s.profiles = make(map[string]Profile)
	s.mu.Unlock()
	revoked := s.registry.RevokeAll()
	s.logger.Debug("session caches invalidated",
		logging.Int("profiles", dropped),
		logging.Int("handles", revoked),
	)
}

// Close invalidates the session, waits for fallback work, and closes storage.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Invalidate()
		s.dispatcher.Wait()
		s.closeErr = errors.Join(s.blobs.Close(), s.store.Close())
	})
	return s.closeErr
}
