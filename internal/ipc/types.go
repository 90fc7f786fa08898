package ipc

import "ferry/internal/dispatch"

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Ferry"

// DispatchRequest hands a task to the daemon's worker pool.
type DispatchRequest struct {
	Message dispatch.DispatchMessage `json:"message"`
}

// DispatchResponse reports whether the daemon queued the task.
type DispatchResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// PollRequest long-polls envelopes for the listed owners. An empty owner
// list collects envelopes for every owner.
type PollRequest struct {
	OwnerIDs   []string `json:"owner_ids"`
	WaitMillis int      `json:"wait_millis"`
	Limit      int      `json:"limit"`
}

// PollResponse carries the collected envelopes in delivery order.
type PollResponse struct {
	Envelopes []dispatch.Envelope `json:"envelopes"`
}

// FocusRequest asks the page for an owner to come to the front.
type FocusRequest struct {
	OwnerID string `json:"owner_id"`
}

// FocusResponse reports whether the request was queued.
type FocusResponse struct {
	Queued bool `json:"queued"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and task queue status.
type StatusResponse struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	Workers     int            `json:"workers"`
	QueueStats  map[string]int `json:"queue_stats"`
	Backlog     int            `json:"backlog"`
	Pending     int            `json:"pending"`
	Dropped     int64          `json:"dropped"`
	DBPath      string         `json:"db_path"`
	LockPath    string         `json:"lock_path"`
	LastCleanup string         `json:"last_cleanup,omitempty"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
