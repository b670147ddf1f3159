package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

const assignmentColumns = `reviewer_id, proposal_id, proposal_kind, status, mark,
       mark_sheet_ref, evaluation_sheet_ref, created_at, completed_at`

// CreateAssignment inserts one pending assignment.
func (s *Store) CreateAssignment(ctx context.Context, assignment storage.ReviewerAssignment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	reviewerID := strings.TrimSpace(assignment.ReviewerID)
	proposalID := strings.TrimSpace(assignment.ProposalID)
	if reviewerID == "" || proposalID == "" {
		return fmt.Errorf("assignment reviewer and proposal ids are required")
	}
	status := assignment.Status
	if status == "" {
		status = storage.AssignmentPending
	}
	createdAt := assignment.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO reviewer_assignments (`+assignmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reviewerID, proposalID, string(assignment.ProposalKind), string(status),
		nullFloat(assignment.Mark), assignment.MarkSheetRef, assignment.EvaluationSheetRef,
		toMillis(createdAt), toNullMillis(assignment.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("create reviewer assignment: %w", err)
	}
	return nil
}

// GetAssignment returns the assignment for one reviewer and proposal.
func (s *Store) GetAssignment(ctx context.Context, reviewerID, proposalID string) (storage.ReviewerAssignment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ReviewerAssignment{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+`
		   FROM reviewer_assignments
		  WHERE reviewer_id = ? AND proposal_id = ?`,
		strings.TrimSpace(reviewerID), strings.TrimSpace(proposalID),
	)
	assignment, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ReviewerAssignment{}, storage.ErrNotFound
		}
		return storage.ReviewerAssignment{}, fmt.Errorf("get reviewer assignment: %w", err)
	}
	return assignment, nil
}

// ListProposalAssignments returns a proposal's assignments ordered by creation.
func (s *Store) ListProposalAssignments(ctx context.Context, proposalID string) ([]storage.ReviewerAssignment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+assignmentColumns+`
		   FROM reviewer_assignments
		  WHERE proposal_id = ?
		  ORDER BY created_at ASC, reviewer_id ASC`,
		strings.TrimSpace(proposalID),
	)
	if err != nil {
		return nil, fmt.Errorf("list reviewer assignments: %w", err)
	}
	defer rows.Close()

	var assignments []storage.ReviewerAssignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("list reviewer assignments: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reviewer assignments: %w", err)
	}
	return assignments, nil
}

// DeleteAssignment removes one assignment.
func (s *Store) DeleteAssignment(ctx context.Context, reviewerID, proposalID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM reviewer_assignments WHERE reviewer_id = ? AND proposal_id = ?`,
		strings.TrimSpace(reviewerID), strings.TrimSpace(proposalID),
	)
	if err != nil {
		return fmt.Errorf("delete reviewer assignment: %w", err)
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

// CompleteAssignment records a review outcome on a pending assignment.
func (s *Store) CompleteAssignment(ctx context.Context, assignment storage.ReviewerAssignment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	completedAt := s.now()
	if assignment.CompletedAt != nil && !assignment.CompletedAt.IsZero() {
		completedAt = *assignment.CompletedAt
	}
	reviewerID := strings.TrimSpace(assignment.ReviewerID)
	proposalID := strings.TrimSpace(assignment.ProposalID)
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE reviewer_assignments
		    SET status = ?, mark = ?, mark_sheet_ref = ?, evaluation_sheet_ref = ?, completed_at = ?
		  WHERE reviewer_id = ? AND proposal_id = ? AND status = ?`,
		string(storage.AssignmentCompleted), nullFloat(assignment.Mark),
		assignment.MarkSheetRef, assignment.EvaluationSheetRef, toMillis(completedAt),
		reviewerID, proposalID, string(storage.AssignmentPending),
	)
	if err != nil {
		return fmt.Errorf("complete reviewer assignment: %w", err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetAssignment(ctx, reviewerID, proposalID); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

func scanAssignment(row rowScanner) (storage.ReviewerAssignment, error) {
	var (
		assignment  storage.ReviewerAssignment
		kind        string
		status      string
		mark        sql.NullFloat64
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(
		&assignment.ReviewerID, &assignment.ProposalID, &kind, &status, &mark,
		&assignment.MarkSheetRef, &assignment.EvaluationSheetRef, &createdAt, &completedAt,
	); err != nil {
		return storage.ReviewerAssignment{}, err
	}
	assignment.ProposalKind = proposal.Kind(kind)
	assignment.Status = storage.AssignmentStatus(status)
	if mark.Valid {
		value := mark.Float64
		assignment.Mark = &value
	}
	assignment.CreatedAt = fromMillis(createdAt)
	assignment.CompletedAt = fromNullMillis(completedAt)
	return assignment, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
