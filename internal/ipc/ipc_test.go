package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/dispatch"
	"ferry/internal/execute"
	"ferry/internal/ipc"
	"ferry/internal/tasks"
	"ferry/internal/testsupport"
	"ferry/internal/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProvider struct{}

func (stubProvider) Complete(context.Context, upstream.Request) (string, error) {
	return `{"messages":[{"sender":"ann","text":"hi there"}]}`, nil
}

type harness struct {
	cfg    *config.Config
	queue  *tasks.Queue
	daemon *daemon.Daemon
	server *ipc.Server
}

func startDaemon(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithShortSocketPath(), testsupport.WithWorkers(1))
	queue := testsupport.MustOpenQueue(t, cfg)
	d, err := daemon.New(cfg, queue, execute.New(stubProvider{}), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return &harness{cfg: cfg, queue: queue, daemon: d, server: srv}
}

func dial(t *testing.T, path string) *ipc.Client {
	t.Helper()
	client, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func request() upstream.Request {
	return upstream.Request{Messages: []upstream.Message{{Role: upstream.RoleUser, Content: "hello"}}}
}

type fallbacks struct {
	mu    sync.Mutex
	count int
}

func (f *fallbacks) handle(context.Context, dispatch.Fallback) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func (f *fallbacks) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func TestDispatchThroughDaemon(t *testing.T) {
	h := startDaemon(t)
	fb := &fallbacks{}
	page := dispatch.New(ipc.NewLink(h.cfg.Paths.SocketPath), h.queue, dispatch.WithFallbackHandler(fb.handle))
	h.queue.SetDispatcher(page)

	task := testsupport.NewTask(t, h.queue, "owner-1", "reply", request())

	client := dial(t, h.cfg.Paths.SocketPath)
	resp, err := client.Poll(context.Background(), ipc.PollRequest{OwnerIDs: []string{"owner-1"}, WaitMillis: 5000})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(resp.Envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(resp.Envelopes))
	}
	env := resp.Envelopes[0]
	if env.Type != dispatch.EnvelopeResult || env.Result.TaskID != task.ID {
		t.Fatalf("unexpected envelope %#v", env)
	}
	if env.Result.Outcome == nil || env.Result.Outcome.Items[0].Text != "hi there" {
		t.Fatalf("unexpected outcome %#v", env.Result.Outcome)
	}
	if err := page.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	got, err := h.queue.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	page.Wait()
	if fb.total() != 0 {
		t.Fatalf("expected no fallback, got %d", fb.total())
	}
}

func TestLinkUnreachableFallsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	queue := testsupport.MustOpenQueue(t, cfg)
	fb := &fallbacks{}
	link := ipc.NewLink(filepath.Join(t.TempDir(), "missing.sock"))
	if err := link.Reachable(context.Background()); err == nil {
		t.Fatal("expected unreachable socket to fail the check")
	}

	page := dispatch.New(link, queue, dispatch.WithFallbackHandler(fb.handle))
	queue.SetDispatcher(page)
	testsupport.NewTask(t, queue, "owner-1", "reply", request())
	page.Wait()

	if fb.total() != 1 {
		t.Fatalf("expected exactly one fallback, got %d", fb.total())
	}
}

func TestStatusAndFocus(t *testing.T) {
	h := startDaemon(t)
	client := dial(t, h.cfg.Paths.SocketPath)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Workers != 1 || status.DBPath != h.cfg.StorePath() {
		t.Fatalf("unexpected status %#v", status)
	}

	focus, err := client.Focus("owner-9")
	if err != nil || !focus.Queued {
		t.Fatalf("Focus: %#v %v", focus, err)
	}
	resp, err := client.Poll(context.Background(), ipc.PollRequest{OwnerIDs: []string{"owner-9"}})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(resp.Envelopes) != 1 || resp.Envelopes[0].Type != dispatch.EnvelopeFocus {
		t.Fatalf("unexpected envelopes %#v", resp.Envelopes)
	}

	sent, err := client.TestNotification()
	if err != nil || sent.Sent {
		t.Fatalf("expected unconfigured notification to report not sent: %#v %v", sent, err)
	}
}

func TestStopMakesLinkUnreachable(t *testing.T) {
	h := startDaemon(t)
	client := dial(t, h.cfg.Paths.SocketPath)

	resp, err := client.Stop()
	if err != nil || !resp.Stopped {
		t.Fatalf("Stop: %#v %v", resp, err)
	}
	select {
	case <-h.daemon.Stopped():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	link := ipc.NewLink(h.cfg.Paths.SocketPath)
	if err := link.Reachable(context.Background()); err == nil {
		t.Fatal("expected stopped daemon to be unreachable")
	}
	if err := link.Send(context.Background(), dispatch.DispatchMessage{TaskID: "t", OwnerID: "o", Request: request()}); err == nil {
		t.Fatal("expected stopped daemon to refuse work")
	}
}
