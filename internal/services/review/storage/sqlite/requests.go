package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// CreateRequest inserts one update request.
func (s *Store) CreateRequest(ctx context.Context, request storage.Request) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	requestID := strings.TrimSpace(request.ID)
	targetID := strings.TrimSpace(request.TargetID)
	if requestID == "" {
		return fmt.Errorf("request id is required")
	}
	if targetID == "" {
		return fmt.Errorf("request target id is required")
	}
	if request.ValidUntil.IsZero() {
		return fmt.Errorf("request valid until is required")
	}
	status := request.Status
	if status == "" {
		status = storage.RequestSent
	}
	refs, err := encodeStrings(request.EvaluationRefs)
	if err != nil {
		return fmt.Errorf("encode evaluation refs: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO update_requests (
		   id, target_id, target_kind, recipient_address, issuer_id, message,
		   created_at, valid_until, status, submitted_at, evaluation_refs_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		requestID, targetID, string(request.TargetKind), request.RecipientAddress,
		request.IssuerID, request.Message, toMillis(request.CreatedAt), toMillis(request.ValidUntil),
		string(status), toNullMillis(request.SubmittedAt), refs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("create update request: %w", err)
	}
	return nil
}

// GetRequest returns one update request by id.
func (s *Store) GetRequest(ctx context.Context, requestID string) (storage.Request, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Request{}, err
	}
	var (
		request     storage.Request
		targetKind  string
		status      string
		createdAt   int64
		validUntil  int64
		submittedAt sql.NullInt64
		refsJSON    string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, target_id, target_kind, recipient_address, issuer_id, message,
		        created_at, valid_until, status, submitted_at, evaluation_refs_json
		   FROM update_requests
		  WHERE id = ?`,
		strings.TrimSpace(requestID),
	).Scan(
		&request.ID, &request.TargetID, &targetKind, &request.RecipientAddress,
		&request.IssuerID, &request.Message, &createdAt, &validUntil, &status,
		&submittedAt, &refsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Request{}, storage.ErrNotFound
		}
		return storage.Request{}, fmt.Errorf("get update request: %w", err)
	}
	refs, err := decodeStrings(refsJSON)
	if err != nil {
		return storage.Request{}, fmt.Errorf("decode evaluation refs: %w", err)
	}
	request.TargetKind = proposal.Kind(targetKind)
	request.Status = storage.RequestStatus(status)
	request.CreatedAt = fromMillis(createdAt)
	request.ValidUntil = fromMillis(validUntil)
	request.SubmittedAt = fromNullMillis(submittedAt)
	request.EvaluationRefs = refs
	return request, nil
}

// MarkRequestViewed moves a sent request to viewed.
func (s *Store) MarkRequestViewed(ctx context.Context, requestID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE update_requests SET status = ? WHERE id = ? AND status = ?`,
		string(storage.RequestViewed), strings.TrimSpace(requestID), string(storage.RequestSent),
	)
	if err != nil {
		return false, fmt.Errorf("mark request viewed: %w", err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkRequestUpdated moves a live, not yet updated request to updated and
// stamps submittedAt.
func (s *Store) MarkRequestUpdated(ctx context.Context, requestID string, submittedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	affected, err := markRequestUpdatedRow(ctx, s.sqlDB, requestID, submittedAt)
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitSubmission writes the merged proposal and the updated status in
// one transaction.
func (s *Store) CommitSubmission(ctx context.Context, requestID string, submittedAt time.Time, next proposal.Proposal) (proposal.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return proposal.Proposal{}, err
	}
	next.ID = strings.TrimSpace(next.ID)
	if next.ID == "" {
		return proposal.Proposal{}, fmt.Errorf("proposal id is required")
	}
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = submittedAt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return proposal.Proposal{}, fmt.Errorf("begin submission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	marked, err := markRequestUpdatedRow(ctx, tx, requestID, submittedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if marked == 0 {
		return proposal.Proposal{}, storage.ErrNotFound
	}
	written, err := updateProposalRow(ctx, tx, next, updatedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if written == 0 {
		return proposal.Proposal{}, storage.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return proposal.Proposal{}, fmt.Errorf("commit submission: %w", err)
	}
	return storedProposal(next, updatedAt), nil
}

func markRequestUpdatedRow(ctx context.Context, db execer, requestID string, submittedAt time.Time) (int64, error) {
	at := toMillis(submittedAt)
	result, err := db.ExecContext(ctx,
		`UPDATE update_requests
		    SET status = ?, submitted_at = ?
		  WHERE id = ? AND status <> ? AND valid_until >= ?`,
		string(storage.RequestUpdated), at, strings.TrimSpace(requestID), string(storage.RequestUpdated), at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark request updated: %w", err)
	}
	return rowsAffected(result)
}

// DeleteRequest removes the request and its expiry marker together.
func (s *Store) DeleteRequest(ctx context.Context, requestID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	requestID = strings.TrimSpace(requestID)
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete request: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM update_requests WHERE id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("delete update request: %w", err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expiry_markers WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("delete expiry marker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete request: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
