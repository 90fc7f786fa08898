package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/dispatch"
	"ferry/internal/execute"
	"ferry/internal/tasks"
	"ferry/internal/testsupport"
	"ferry/internal/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProvider struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (p *stubProvider) Complete(context.Context, upstream.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.text, p.err
}

func request() upstream.Request {
	return upstream.Request{Messages: []upstream.Message{{Role: upstream.RoleUser, Content: "hi"}}}
}

func newDaemon(t *testing.T, cfg *config.Config, provider execute.Provider) (*daemon.Daemon, *tasks.Queue) {
	t.Helper()
	queue := testsupport.MustOpenQueue(t, cfg)
	d, err := daemon.New(cfg, queue, execute.New(provider), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, queue
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, &stubProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status := d.Status(ctx); !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, _ := newDaemon(t, cfg, &stubProvider{})
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected second instance to be refused by the lock")
	}

	d.Stop()
	select {
	case <-d.Stopped():
	default:
		t.Fatal("expected Stopped channel to be closed")
	}
	if status := d.Status(ctx); status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("expected lock to be free after stop: %v", err)
	}
}

func TestDaemonProcessesSubmittedTask(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	provider := &stubProvider{text: `{"messages":[{"sender":"ann","text":"hello"},{"sticker":"wave"}]}`}
	d, queue := newDaemon(t, cfg, provider)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	task := testsupport.NewTask(t, queue, "owner-1", "reply", request())
	if err := d.Submit(ctx, dispatch.DispatchMessage{TaskID: task.ID, OwnerID: "owner-1", Request: request()}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	envs := d.Poll(ctx, []string{"owner-1"}, 10, 5*time.Second)
	if len(envs) != 1 || envs[0].Type != dispatch.EnvelopeResult {
		t.Fatalf("expected one result envelope, got %#v", envs)
	}
	if !envs[0].Result.Succeeded() || len(envs[0].Result.Outcome.Items) != 2 {
		t.Fatalf("unexpected result: %#v", envs[0].Result)
	}

	got, err := queue.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s", got.Status)
	}
}

func TestDaemonRecordsUpstreamFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	d, queue := newDaemon(t, cfg, &stubProvider{err: errors.New("upstream api error: http 502")})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	task := testsupport.NewTask(t, queue, "owner-1", "reply", request())
	if err := d.Submit(ctx, dispatch.DispatchMessage{TaskID: task.ID, OwnerID: "owner-1", Request: request()}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	envs := d.Poll(ctx, []string{"owner-1"}, 0, 5*time.Second)
	if len(envs) != 1 || envs[0].Result.ErrorText == "" {
		t.Fatalf("expected failure envelope, got %#v", envs)
	}
	got, err := queue.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != tasks.StatusFailed || got.Error != "upstream api error: http 502" {
		t.Fatalf("unexpected task state %s %q", got.Status, got.Error)
	}
}

func TestDaemonSkipsVanishedTask(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	provider := &stubProvider{text: `{"messages":[]}`}
	d, _ := newDaemon(t, cfg, provider)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Submit(ctx, dispatch.DispatchMessage{TaskID: "missing", OwnerID: "owner-1", Request: request()}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if envs := d.Poll(ctx, []string{"owner-1"}, 0, 200*time.Millisecond); len(envs) != 0 {
		t.Fatalf("expected no envelopes for unknown task, got %#v", envs)
	}
	d.Stop()
	if provider.calls != 0 {
		t.Fatalf("expected provider not to be called, got %d calls", provider.calls)
	}
}

func TestSubmitRequiresRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, &stubProvider{})

	err := d.Submit(context.Background(), dispatch.DispatchMessage{TaskID: "t1", OwnerID: "o"})
	if !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestFocusQueuesEnvelope(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, &stubProvider{})

	if err := d.Focus(dispatch.FocusRequest{OwnerID: "owner-2"}); err != nil {
		t.Fatalf("Focus failed: %v", err)
	}
	if err := d.Focus(dispatch.FocusRequest{}); err == nil {
		t.Fatal("expected error for empty owner")
	}
	envs := d.Poll(context.Background(), []string{"owner-2"}, 0, 0)
	if len(envs) != 1 || envs[0].Type != dispatch.EnvelopeFocus || envs[0].Focus.OwnerID != "owner-2" {
		t.Fatalf("unexpected envelopes %#v", envs)
	}
}
