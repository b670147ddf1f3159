package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// PutMarker creates or refreshes the marker for its request.
func (s *Store) PutMarker(ctx context.Context, marker storage.ExpiryMarker) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	requestID := strings.TrimSpace(marker.RequestID)
	if requestID == "" {
		return fmt.Errorf("marker request id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO expiry_markers (request_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET expires_at = excluded.expires_at`,
		requestID, toMillis(marker.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put expiry marker: %w", err)
	}
	return nil
}

// GetMarker returns the marker for requestID.
func (s *Store) GetMarker(ctx context.Context, requestID string) (storage.ExpiryMarker, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ExpiryMarker{}, err
	}
	var (
		marker    storage.ExpiryMarker
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT request_id, expires_at FROM expiry_markers WHERE request_id = ?`,
		strings.TrimSpace(requestID),
	).Scan(&marker.RequestID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ExpiryMarker{}, storage.ErrNotFound
		}
		return storage.ExpiryMarker{}, fmt.Errorf("get expiry marker: %w", err)
	}
	marker.ExpiresAt = fromMillis(expiresAt)
	return marker, nil
}

// DeleteMarker removes the marker for requestID.
func (s *Store) DeleteMarker(ctx context.Context, requestID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM expiry_markers WHERE request_id = ?`,
		strings.TrimSpace(requestID),
	)
	if err != nil {
		return fmt.Errorf("delete expiry marker: %w", err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredMarkers removes markers with expires_at <= now.
func (s *Store) DeleteExpiredMarkers(ctx context.Context, now time.Time) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM expiry_markers WHERE expires_at <= ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired markers: %w", err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
