package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"ferry/internal/daemon"
	"ferry/internal/dispatch"
	"ferry/internal/logging"
)

const maxPollWait = 60 * time.Second

// Server exposes the daemon via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart ferryd if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close stops the server, drops open connections, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Dispatch(req DispatchRequest, resp *DispatchResponse) error {
	msg := req.Message
	if err := s.daemon.Submit(s.ctx, msg); err != nil {
		resp.Accepted = false
		resp.Message = err.Error()
		s.logger.Debug("dispatch refused",
			logging.String(logging.FieldTaskID, msg.TaskID),
			logging.Error(err))
		return nil
	}
	resp.Accepted = true
	resp.Message = "queued"
	return nil
}

func (s *service) Poll(req PollRequest, resp *PollResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > maxPollWait {
		wait = maxPollWait
	}
	resp.Envelopes = s.daemon.Poll(s.ctx, req.OwnerIDs, req.Limit, wait)
	if resp.Envelopes == nil {
		resp.Envelopes = []dispatch.Envelope{}
	}
	return nil
}

func (s *service) Focus(req FocusRequest, resp *FocusResponse) error {
	if err := s.daemon.Focus(dispatch.FocusRequest{OwnerID: req.OwnerID}); err != nil {
		return err
	}
	resp.Queued = true
	s.logger.Info("focus requested",
		logging.String(logging.FieldEventType, "focus_requested"),
		logging.String(logging.FieldOwnerID, req.OwnerID))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Workers = status.Workers
	resp.Backlog = status.Backlog
	resp.Pending = status.Pending
	resp.Dropped = status.Dropped
	resp.DBPath = status.StorePath
	resp.LockPath = status.LockPath
	if !status.LastCleanup.IsZero() {
		resp.LastCleanup = status.LastCleanup.UTC().Format(time.RFC3339)
	}
	resp.QueueStats = make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	go s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop_requested"))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
