package session

import (
	"context"
	"fmt"

	"ferry/internal/config"
	"ferry/internal/ipc"
	"ferry/internal/stores"
)

// Overview summarizes task state and the daemon, from ferryd when it answers
// and from the store otherwise.
type Overview struct {
	Source        string         `json:"source"`
	DaemonRunning bool           `json:"daemon_running"`
	PID           int            `json:"pid,omitempty"`
	Workers       int            `json:"workers,omitempty"`
	QueueStats    map[string]int `json:"queue_stats"`
	Backlog       int            `json:"backlog"`
	DBPath        string         `json:"db_path"`
	LastCleanup   string         `json:"last_cleanup,omitempty"`
}

// Inspect tries ferryd first, then falls back to reading the store directly.
func Inspect(ctx context.Context, cfg *config.Config) (Overview, error) {
	return inspectWithFallback(ctx,
		func() (*ipc.Client, error) { return ipc.DialContext(ctx, cfg.Paths.SocketPath) },
		func() (Overview, error) { return inspectStore(ctx, cfg) },
	)
}

func inspectWithFallback(
	ctx context.Context,
	dial func() (*ipc.Client, error),
	direct func() (Overview, error),
) (Overview, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			defer client.Close()
			if status, err := client.Status(); err == nil {
				return Overview{
					Source:        "daemon",
					DaemonRunning: status.Running,
					PID:           status.PID,
					Workers:       status.Workers,
					QueueStats:    status.QueueStats,
					Backlog:       status.Backlog,
					DBPath:        status.DBPath,
					LastCleanup:   status.LastCleanup,
				}, nil
			}
		}
	}
	if direct == nil {
		return Overview{}, fmt.Errorf("inspect: no store opener configured")
	}
	return direct()
}

func inspectStore(ctx context.Context, cfg *config.Config) (Overview, error) {
	store, queue, err := stores.OpenQueue(ctx, cfg, nil)
	if err != nil {
		return Overview{}, fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	stats, err := queue.Stats(ctx)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{Source: "store", DBPath: store.Path(), QueueStats: make(map[string]int, len(stats))}
	for status, n := range stats {
		out.QueueStats[string(status)] = n
	}
	return out, nil
}
