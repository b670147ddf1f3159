package expiry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// MemoryStore is a process-local ExpiryStore. Markers are disposable and
// rebuilt on the next request visit, so losing them on restart only affects
// the active-viewing signal.
type MemoryStore struct {
	mu      sync.RWMutex
	markers map[string]time.Time
}

// NewMemoryStore creates an empty marker store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string]time.Time)}
}

// PutMarker creates or replaces the marker for its request id.
func (m *MemoryStore) PutMarker(ctx context.Context, marker storage.ExpiryMarker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[strings.TrimSpace(marker.RequestID)] = marker.ExpiresAt.UTC()
	return nil
}

// GetMarker returns the marker for requestID.
func (m *MemoryStore) GetMarker(ctx context.Context, requestID string) (storage.ExpiryMarker, error) {
	if err := ctx.Err(); err != nil {
		return storage.ExpiryMarker{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	expiresAt, ok := m.markers[requestID]
	if !ok {
		return storage.ExpiryMarker{}, storage.ErrNotFound
	}
	return storage.ExpiryMarker{RequestID: requestID, ExpiresAt: expiresAt}, nil
}

// DeleteMarker removes the marker for requestID.
func (m *MemoryStore) DeleteMarker(ctx context.Context, requestID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[requestID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.markers, requestID)
	return nil
}

// DeleteExpiredMarkers removes markers with expires_at <= now.
func (m *MemoryStore) DeleteExpiredMarkers(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for requestID, expiresAt := range m.markers {
		if !expiresAt.After(now) {
			delete(m.markers, requestID)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored markers.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.markers)
}

var _ storage.ExpiryStore = (*MemoryStore)(nil)
