package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a persisted unit of upstream work. Result is set only when the task
// completed and Error only when it failed.
type Task struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Kind      string          `json:"kind"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsTerminal reports whether the task reached completed or failed.
func (t Task) IsTerminal() bool { return t.Status.Terminal() }

// DecodePayload unmarshals the task payload into dest.
func (t Task) DecodePayload(dest any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, dest); err != nil {
		return fmt.Errorf("decode task %s payload: %w", t.ID, err)
	}
	return nil
}

// DecodeResult unmarshals the task result into dest.
func (t Task) DecodeResult(dest any) error {
	if len(t.Result) == 0 {
		return fmt.Errorf("task %s has no result", t.ID)
	}
	if err := json.Unmarshal(t.Result, dest); err != nil {
		return fmt.Errorf("decode task %s result: %w", t.ID, err)
	}
	return nil
}
