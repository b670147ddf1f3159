// Package expiry keeps the advisory active-viewing index for update
// requests. A marker only says that someone opened a request link recently;
// it never decides whether the request itself is still valid.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// DefaultWindow is how long a marker stays active after the last enqueue.
const DefaultWindow = 30 * time.Minute

// Service refreshes, checks and reaps expiry markers.
type Service struct {
	store  storage.ExpiryStore
	window time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for marker expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds an expiry index over store. A non-positive window uses
// DefaultWindow.
func NewService(store storage.ExpiryStore, window time.Duration, opts ...Option) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Service{store: store, window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the marker lifetime.
func (s *Service) Window() time.Duration {
	return s.window
}

// Enqueue creates or refreshes the marker for requestID so it expires one
// window from now, but never after capAt. A zero capAt means no cap.
// Repeated calls only move expires_at; there is at most one marker per id.
func (s *Service) Enqueue(ctx context.Context, requestID string, capAt time.Time) (storage.ExpiryMarker, error) {
	if s == nil || s.store == nil {
		return storage.ExpiryMarker{}, errors.New("expiry index is not configured")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return storage.ExpiryMarker{}, errors.New("request id is required")
	}
	expiresAt := s.now().UTC().Add(s.window)
	if !capAt.IsZero() && capAt.Before(expiresAt) {
		expiresAt = capAt.UTC()
	}
	marker := storage.ExpiryMarker{RequestID: requestID, ExpiresAt: expiresAt}
	if err := s.store.PutMarker(ctx, marker); err != nil {
		return storage.ExpiryMarker{}, fmt.Errorf("put expiry marker: %w", err)
	}
	return marker, nil
}

// IsActive reports whether requestID has an unexpired marker. A marker found
// past its expiry is removed on the spot.
func (s *Service) IsActive(ctx context.Context, requestID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, errors.New("expiry index is not configured")
	}
	marker, err := s.store.GetMarker(ctx, strings.TrimSpace(requestID))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get expiry marker: %w", err)
	}
	if marker.ExpiresAt.After(s.now().UTC()) {
		return true, nil
	}
	if err := s.store.DeleteMarker(ctx, marker.RequestID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("expiry lazy delete failed request_id=%s err=%v", marker.RequestID, err)
	}
	return false, nil
}

// Remove drops the marker for requestID if present.
func (s *Service) Remove(ctx context.Context, requestID string) error {
	if s == nil || s.store == nil {
		return errors.New("expiry index is not configured")
	}
	if err := s.store.DeleteMarker(ctx, strings.TrimSpace(requestID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete expiry marker: %w", err)
	}
	return nil
}

// Reap removes every marker whose expires_at is at or before now.
func (s *Service) Reap(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("expiry index is not configured")
	}
	removed, err := s.store.DeleteExpiredMarkers(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reap expiry markers: %w", err)
	}
	return removed, nil
}

// RunReaper calls Reap every interval until ctx is done. Reap failures are
// logged and retried on the next tick.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reap interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Reap(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("expiry reap failed err=%v", err)
				continue
			}
			if removed > 0 {
				log.Printf("expiry reaped markers=%d", removed)
			}
		}
	}
}
