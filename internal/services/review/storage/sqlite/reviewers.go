package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// CreateReviewer inserts one reviewer.
func (s *Store) CreateReviewer(ctx context.Context, reviewer storage.Reviewer) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	reviewerID := strings.TrimSpace(reviewer.ID)
	email := strings.TrimSpace(reviewer.Email)
	if reviewerID == "" {
		return fmt.Errorf("reviewer id is required")
	}
	if email == "" {
		return fmt.Errorf("reviewer email is required")
	}
	createdAt := reviewer.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO reviewers (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		reviewerID, strings.TrimSpace(reviewer.Name), email, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create reviewer: %w", err)
	}
	return nil
}

// GetReviewer returns one reviewer by id.
func (s *Store) GetReviewer(ctx context.Context, reviewerID string) (storage.Reviewer, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Reviewer{}, err
	}
	var (
		reviewer  storage.Reviewer
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM reviewers WHERE id = ?`,
		strings.TrimSpace(reviewerID),
	).Scan(&reviewer.ID, &reviewer.Name, &reviewer.Email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Reviewer{}, storage.ErrNotFound
		}
		return storage.Reviewer{}, fmt.Errorf("get reviewer: %w", err)
	}
	reviewer.CreatedAt = fromMillis(createdAt)
	return reviewer, nil
}
