package session

import (
	"context"
	"time"

	"ferry/internal/ipc"
	"ferry/internal/logging"
)

const (
	minReceiveBackoff = 500 * time.Millisecond
	maxReceiveBackoff = 30 * time.Second
	receiveBatch      = 64
)

// Run is the page's receive loop. It long-polls ferryd for envelopes
// addressed to the watched owners (every owner when none are watched) and
// feeds them to the dispatcher. While the daemon is unreachable it backs off
// and retries. Run returns when ctx ends.
func (s *Session) Run(ctx context.Context) error {
	backoff := minReceiveBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.ReceiveOnce(ctx)
		if err == nil {
			backoff = minReceiveBackoff
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Debug("daemon poll failed; retrying",
			logging.Error(err),
			logging.Duration("backoff", backoff),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, maxReceiveBackoff)
	}
}

// ReceiveOnce performs a single long-poll and applies what it gets.
func (s *Session) ReceiveOnce(ctx context.Context) error {
	client, err := ipc.DialContext(ctx, s.cfg.Paths.SocketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	wait := time.Duration(s.cfg.Daemon.PollWaitSeconds) * time.Second
	resp, err := client.Poll(ctx, ipc.PollRequest{
		OwnerIDs:   s.Watched(),
		WaitMillis: int(wait / time.Millisecond),
		Limit:      receiveBatch,
	})
	if err != nil {
		return err
	}
	for _, env := range resp.Envelopes {
		if err := s.dispatcher.HandleEnvelope(ctx, env); err != nil {
			logging.WarnWithContext(s.logger, "envelope rejected", "envelope_rejected",
				logging.String(logging.FieldOwnerID, env.OwnerID()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "page view may miss one update"),
			)
		}
	}
	return nil
}
