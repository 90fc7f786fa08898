package ipc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ferry/internal/dispatch"
)

// Link is the page's dispatch.Channel to ferryd. Each call opens its own
// short-lived connection.
type Link struct {
	path string
}

// NewLink returns a channel to the daemon listening on path.
func NewLink(path string) *Link {
	return &Link{path: path}
}

// Reachable dials the socket and confirms the daemon is accepting work.
func (l *Link) Reachable(ctx context.Context) error {
	if strings.TrimSpace(l.path) == "" {
		return errors.New("no daemon socket configured")
	}
	client, err := DialContext(ctx, l.path)
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("daemon status: %w", err)
	}
	if !status.Running {
		return errors.New("daemon is not running")
	}
	return nil
}

// Send delivers msg to the daemon. A refused dispatch is an error.
func (l *Link) Send(ctx context.Context, msg dispatch.DispatchMessage) error {
	client, err := DialContext(ctx, l.path)
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Dispatch(ctx, DispatchRequest{Message: msg})
	if err != nil {
		return fmt.Errorf("dispatch rpc: %w", err)
	}
	if !resp.Accepted {
		return fmt.Errorf("daemon refused task: %s", resp.Message)
	}
	return nil
}

var _ dispatch.Channel = (*Link)(nil)
