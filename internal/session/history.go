package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"ferry/internal/decoder"
	"ferry/internal/dispatch"
	"ferry/internal/logging"
	"ferry/internal/stores"
)

const (
	maxHistoryItems = 500
	maxHistoryTasks = 200
)

// Conversation is the rolling log of items produced for an owner.
type Conversation struct {
	OwnerID   string         `json:"owner_id"`
	Items     []decoder.Item `json:"items"`
	TaskIDs   []string       `json:"task_ids,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// History returns the owner's conversation log.
func (s *Session) History(ctx context.Context, ownerID string) (Conversation, error) {
	var conv Conversation
	found, err := s.store.Get(ctx, stores.PartitionConversations, ownerID, &conv)
	if err != nil {
		return Conversation{}, fmt.Errorf("history %s: %w", ownerID, err)
	}
	if !found {
		return Conversation{OwnerID: ownerID}, nil
	}
	return conv, nil
}

// ClearHistory deletes the owner's conversation log.
func (s *Session) ClearHistory(ctx context.Context, ownerID string) error {
	return s.store.Delete(ctx, stores.PartitionConversations, ownerID)
}

// recordHistory appends completed outcomes to the owner's conversation. The
// same result can arrive twice (daemon write, then page envelope); a task
// already recorded is skipped.
func (s *Session) recordHistory(ctx context.Context, msg dispatch.ResultMessage) {
	if !msg.Succeeded() || len(msg.Outcome.Items) == 0 || msg.OwnerID == "" {
		return
	}
	if !s.store.HasPartition(stores.PartitionConversations) {
		return
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	conv, err := s.History(ctx, msg.OwnerID)
	if err == nil {
		if slices.Contains(conv.TaskIDs, msg.TaskID) {
			return
		}
		conv.Items = append(conv.Items, msg.Outcome.Items...)
		if over := len(conv.Items) - maxHistoryItems; over > 0 {
			conv.Items = append([]decoder.Item(nil), conv.Items[over:]...)
		}
		conv.TaskIDs = append(conv.TaskIDs, msg.TaskID)
		if over := len(conv.TaskIDs) - maxHistoryTasks; over > 0 {
			conv.TaskIDs = append([]string(nil), conv.TaskIDs[over:]...)
		}
		conv.UpdatedAt = time.Now().UTC()
		err = s.store.Set(ctx, stores.PartitionConversations, msg.OwnerID, conv)
	}
	if err != nil {
		logging.WarnWithContext(s.logger, "failed to record conversation history", "history_write_failed",
			logging.String(logging.FieldOwnerID, msg.OwnerID),
			logging.String(logging.FieldTaskID, msg.TaskID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "items missing from ferry history"),
		)
	}
}
