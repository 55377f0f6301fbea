package presence

import (
	"context"
	"sync"
)

// Tracker maps a user to the handle of their current connection. Last
// connection wins.
type Tracker interface {
	// SetOnline binds userID to handle and returns the handle it replaced, if
	// any.
	SetOnline(ctx context.Context, userID, handle string) (string, error)
	SetOffline(ctx context.Context, userID string) error
	// Release removes the entry only while it still points at handle, so a
	// stale connection closing cannot unbind a newer one.
	Release(ctx context.Context, userID, handle string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	HandleFor(ctx context.Context, userID string) (string, bool, error)
}

// MemoryTracker is correct only within a single instance.
type MemoryTracker struct {
	mu      sync.RWMutex
	handles map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{handles: make(map[string]string)}
}

func (t *MemoryTracker) SetOnline(ctx context.Context, userID, handle string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.handles[userID]
	t.handles[userID] = handle
	return previous, nil
}

func (t *MemoryTracker) SetOffline(ctx context.Context, userID string) error {
	t.mu.Lock()
	delete(t.handles, userID)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTracker) Release(ctx context.Context, userID, handle string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.handles[userID]; !ok || current != handle {
		return false, nil
	}
	delete(t.handles, userID)
	return true, nil
}

func (t *MemoryTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	t.mu.RLock()
	_, ok := t.handles[userID]
	t.mu.RUnlock()
	return ok, nil
}

func (t *MemoryTracker) HandleFor(ctx context.Context, userID string) (string, bool, error) {
	t.mu.RLock()
	handle, ok := t.handles[userID]
	t.mu.RUnlock()
	return handle, ok, nil
}
