package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferry/internal/blobcache"
	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/execute"
	"ferry/internal/ipc"
	"ferry/internal/session"
	"ferry/internal/stores"
	"ferry/internal/tasks"
	"ferry/internal/testsupport"
	"ferry/internal/upstream"
)

type stubProvider struct {
	text  string
	calls atomic.Int32
}

func (p *stubProvider) Complete(context.Context, upstream.Request) (string, error) {
	p.calls.Add(1)
	return p.text, nil
}

func reply(text string) *stubProvider {
	return &stubProvider{text: `{"messages":[{"sender":"ann","text":"` + text + `"}]}`}
}

func request() upstream.Request {
	return upstream.Request{Messages: []upstream.Message{{Role: upstream.RoleUser, Content: "hello"}}}
}

func openSession(t *testing.T, cfg *config.Config, opts ...session.Option) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestCreateTaskFallsBackWhenDaemonAbsent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	provider := reply("from page")
	s := openSession(t, cfg, session.WithProvider(provider))
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "alice", "reply", request())
	require.NoError(t, err)
	s.Dispatcher().Wait()

	task, err := s.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Equal(t, int32(1), provider.calls.Load())

	conv, err := s.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conv.Items, 1)
	assert.Equal(t, "from page", conv.Items[0].Text)
	assert.Contains(t, s.Watched(), "alice")
}

func TestCreateTaskRejectsInvalidRequest(t *testing.T) {
	s := openSession(t, testsupport.NewConfig(t), session.WithChannel(nil), session.WithProvider(reply("x")))
	_, err := s.CreateTask(context.Background(), "alice", "reply", upstream.Request{})
	assert.Error(t, err)
}

func TestInvalidateDropsProfilesAndHandles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := openSession(t, cfg, session.WithChannel(nil), session.WithProvider(reply("x")))
	ctx := context.Background()

	_, err := s.Blobs().Save(ctx, "alice_avatar", []byte("not an image"), "")
	require.NoError(t, err)
	require.NoError(t, s.SaveProfile(ctx, session.Profile{OwnerID: "alice", DisplayName: "Alice", AvatarKey: "alice_avatar"}))

	handle, found, err := s.Avatar(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	defer handle.Release()

	require.NoError(t, s.Store().Set(ctx, stores.PartitionProfiles, "alice", session.Profile{OwnerID: "alice", DisplayName: "Renamed"}))
	cached, _, err := s.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", cached.DisplayName)

	s.Invalidate()

	assert.False(t, handle.Valid())
	_, err = handle.Bytes()
	assert.ErrorIs(t, err, blobcache.ErrHandleRevoked)

	fresh, found, err := s.Profile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Renamed", fresh.DisplayName)
}

func TestCollectBlobsKeepsProfileAvatars(t *testing.T) {
	s := openSession(t, testsupport.NewConfig(t), session.WithChannel(nil), session.WithProvider(reply("x")))
	ctx := context.Background()

	for _, key := range []string{"alice_avatar", "bob_avatar", "sunset_background", "old_sticker"} {
		_, err := s.Blobs().Save(ctx, key, []byte(key), "")
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveProfile(ctx, session.Profile{OwnerID: "alice", AvatarKey: "alice_avatar"}))

	removed, err := s.CollectBlobs(ctx, "sunset_background")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err := s.Blobs().ListAll(ctx)
	require.NoError(t, err)
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	assert.ElementsMatch(t, []string{"alice_avatar", "sunset_background"}, keys)
}

func TestRunReceivesDaemonResults(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithShortSocketPath(), testsupport.WithWorkers(1))
	cfg.Daemon.PollWaitSeconds = 1

	queue := testsupport.MustOpenQueue(t, cfg)
	d, err := daemon.New(cfg, queue, execute.New(reply("from daemon")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, d.Start(ctx))
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		t.Skipf("skipping IPC session test: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	pageProvider := reply("from page")
	s := openSession(t, cfg, session.WithProvider(pageProvider))
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	id, err := s.CreateTask(ctx, "alice", "reply", request())
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	var conv session.Conversation
	for time.Now().Before(deadline) {
		conv, err = s.History(ctx, "alice")
		require.NoError(t, err)
		if len(conv.Items) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	stop()
	require.NoError(t, <-done)

	require.Len(t, conv.Items, 1)
	assert.Equal(t, "from daemon", conv.Items[0].Text)
	assert.Equal(t, int32(0), pageProvider.calls.Load())

	task, err := s.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
}

func TestInspectFallsBackToStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := openSession(t, cfg, session.WithChannel(nil), session.WithProvider(reply("x")))
	_, err := s.Queue().Create(context.Background(), "alice", "reply", request())
	require.NoError(t, err)
	s.Dispatcher().Wait()

	overview, err := session.Inspect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "store", overview.Source)
	assert.False(t, overview.DaemonRunning)
	assert.Equal(t, 1, overview.QueueStats[string(tasks.StatusCompleted)])
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := session.Open(context.Background(), testsupport.NewConfig(t), session.WithChannel(nil), session.WithProvider(reply("x")))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
