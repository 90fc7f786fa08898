package daemon

import (
	"context"
	"sync"
	"time"

	"ferry/internal/dispatch"
)

// Mailbox holds envelopes for pages to collect, one bounded queue per owner.
// When a queue is full the oldest envelope is dropped.
type Mailbox struct {
	mu       sync.Mutex
	capacity int
	boxes    map[string][]dispatch.Envelope
	changed  chan struct{}
	dropped  int64
}

// NewMailbox returns a mailbox keeping at most capacity envelopes per owner.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox{
		capacity: capacity,
		boxes:    make(map[string][]dispatch.Envelope),
		changed:  make(chan struct{}),
	}
}

// Publish queues env for its owner and wakes waiting pollers. It reports
// whether an older envelope was dropped to make room.
func (m *Mailbox) Publish(env dispatch.Envelope) bool {
	owner := env.OwnerID()
	if owner == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	box := append(m.boxes[owner], env)
	dropped := false
	if len(box) > m.capacity {
		box = append([]dispatch.Envelope(nil), box[len(box)-m.capacity:]...)
		m.dropped++
		dropped = true
	}
	m.boxes[owner] = box
	close(m.changed)
	m.changed = make(chan struct{})
	return dropped
}

// Take removes and returns up to limit envelopes for owners, in owner order.
// An empty owners list drains every owner. limit <= 0 means no limit.
func (m *Mailbox) Take(owners []string, limit int) []dispatch.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeLocked(owners, limit)
}

func (m *Mailbox) takeLocked(owners []string, limit int) []dispatch.Envelope {
	if len(owners) == 0 {
		owners = make([]string, 0, len(m.boxes))
		for owner := range m.boxes {
			owners = append(owners, owner)
		}
	}
	var out []dispatch.Envelope
	for _, owner := range owners {
		box := m.boxes[owner]
		if len(box) == 0 {
			continue
		}
		n := len(box)
		if limit > 0 && len(out)+n > limit {
			n = limit - len(out)
		}
		out = append(out, box[:n]...)
		if n == len(box) {
			delete(m.boxes, owner)
		} else {
			m.boxes[owner] = box[n:]
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Wait returns queued envelopes for owners, blocking up to wait for at least
// one to arrive. It returns nil on timeout or context cancellation.
func (m *Mailbox) Wait(ctx context.Context, owners []string, limit int, wait time.Duration) []dispatch.Envelope {
	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}
	for {
		m.mu.Lock()
		out := m.takeLocked(owners, limit)
		changed := m.changed
		m.mu.Unlock()
		if len(out) > 0 || timer == nil {
			return out
		}
		select {
		case <-changed:
		case <-timer:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Backlog returns the number of undelivered envelopes.
func (m *Mailbox) Backlog() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, box := range m.boxes {
		total += len(box)
	}
	return total
}

// Dropped returns how many envelopes were discarded because a queue was full.
func (m *Mailbox) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
