package blobcache

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Handle is a process-local reference to a blob payload. A handle stays valid
// until it is released or until the registry revokes it because the key was
// reissued, deleted, or collected. Callers release handles with defer.
type Handle struct {
	ID  uuid.UUID
	Key string

	mu       sync.RWMutex
	data     []byte
	revoked  bool
	registry *Registry
}

// Bytes returns a copy of the payload.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.revoked {
		return nil, ErrHandleRevoked
	}
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out, nil
}

// Reader returns a reader over the payload.
func (h *Handle) Reader() (io.Reader, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.revoked {
		return nil, ErrHandleRevoked
	}
	return bytes.NewReader(h.data), nil
}

// Size returns the payload length in bytes.
func (h *Handle) Size() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.revoked {
		return 0, ErrHandleRevoked
	}
	return len(h.data), nil
}

// Valid reports whether the handle can still be read.
func (h *Handle) Valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.revoked
}

// Release revokes the handle and removes it from its registry. It is safe to call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.revoke()
	if h.registry != nil {
		h.registry.forget(h)
	}
}

func (h *Handle) revoke() {
	h.mu.Lock()
	h.revoked = true
	h.data = nil
	h.mu.Unlock()
}

// Registry tracks live handles for one session. At most one handle per key is
// live at a time.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Handle)}
}

// Issue revokes any live handle for key and returns a new one over data.
func (r *Registry) Issue(key string, data []byte) *Handle {
	h := &Handle{ID: newHandleID(), Key: key, data: data, registry: r}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.live[key]; ok {
		prior.revoke()
	}
	r.live[key] = h
	return h
}

// Revoke invalidates the live handle for key, reporting whether one existed.
func (r *Registry) Revoke(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[key]
	if !ok {
		return false
	}
	h.revoke()
	delete(r.live, key)
	return true
}

// RevokeAll invalidates every live handle and returns how many were revoked.
func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.live)
	for key, h := range r.live {
		h.revoke()
		delete(r.live, key)
	}
	return n
}

// Live returns the number of live handles.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.live[h.Key]; ok && current == h {
		delete(r.live, h.Key)
	}
}

func newHandleID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
