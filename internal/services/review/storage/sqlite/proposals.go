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

const proposalColumns = `id, kind, title, abstract, keywords_json, owner_name, owner_email,
       department, update_notes, document_ref, supporting_ref, status,
       reviewer_ids_json, admin_notes, decision, revision, created_at, updated_at`

// CreateProposal inserts one proposal at revision 1.
func (s *Store) CreateProposal(ctx context.Context, p proposal.Proposal) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("proposal id is required")
	}
	if _, ok := proposal.ParseKind(string(p.Kind)); !ok {
		return fmt.Errorf("proposal kind %q is invalid", p.Kind)
	}
	if p.Status == "" {
		p.Status = proposal.StatusSubmitted
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	keywords, err := encodeStrings(p.Keywords)
	if err != nil {
		return fmt.Errorf("encode proposal keywords: %w", err)
	}
	reviewers, err := encodeStrings(p.ReviewerIDs)
	if err != nil {
		return fmt.Errorf("encode proposal reviewers: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO proposals (`+proposalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		p.ID, string(p.Kind), p.Title, p.Abstract, keywords, p.OwnerName, p.OwnerEmail,
		p.Department, p.UpdateNotes, p.DocumentRef, p.SupportingRef, string(p.Status),
		reviewers, p.AdminNotes, p.Decision, toMillis(createdAt), toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// GetProposal returns one proposal by id.
func (s *Store) GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return proposal.Proposal{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`,
		strings.TrimSpace(proposalID),
	)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return proposal.Proposal{}, storage.ErrNotFound
		}
		return proposal.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// UpdateProposal replaces every mutable column when the stored revision still
// equals p.Revision.
func (s *Store) UpdateProposal(ctx context.Context, p proposal.Proposal) (proposal.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return proposal.Proposal{}, err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return proposal.Proposal{}, fmt.Errorf("proposal id is required")
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	affected, err := updateProposalRow(ctx, s.sqlDB, p, updatedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if affected == 0 {
		if _, err := s.GetProposal(ctx, p.ID); err != nil {
			return proposal.Proposal{}, err
		}
		return proposal.Proposal{}, storage.ErrConflict
	}
	return storedProposal(p, updatedAt), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateProposalRow applies the revision-checked write and reports how many
// rows matched.
func updateProposalRow(ctx context.Context, db execer, p proposal.Proposal, updatedAt time.Time) (int64, error) {
	keywords, err := encodeStrings(p.Keywords)
	if err != nil {
		return 0, fmt.Errorf("encode proposal keywords: %w", err)
	}
	reviewers, err := encodeStrings(p.ReviewerIDs)
	if err != nil {
		return 0, fmt.Errorf("encode proposal reviewers: %w", err)
	}
	result, err := db.ExecContext(ctx,
		`UPDATE proposals
		    SET title = ?, abstract = ?, keywords_json = ?, owner_name = ?, owner_email = ?,
		        department = ?, update_notes = ?, document_ref = ?, supporting_ref = ?,
		        status = ?, reviewer_ids_json = ?, admin_notes = ?, decision = ?,
		        revision = revision + 1, updated_at = ?
		  WHERE id = ? AND revision = ?`,
		p.Title, p.Abstract, keywords, p.OwnerName, p.OwnerEmail,
		p.Department, p.UpdateNotes, p.DocumentRef, p.SupportingRef,
		string(p.Status), reviewers, p.AdminNotes, p.Decision,
		toMillis(updatedAt), p.ID, p.Revision,
	)
	if err != nil {
		return 0, fmt.Errorf("update proposal: %w", err)
	}
	return rowsAffected(result)
}

func storedProposal(p proposal.Proposal, updatedAt time.Time) proposal.Proposal {
	stored := p.Clone()
	stored.Revision = p.Revision + 1
	stored.UpdatedAt = fromMillis(toMillis(updatedAt))
	return stored
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (proposal.Proposal, error) {
	var (
		p             proposal.Proposal
		kind          string
		status        string
		keywordsJSON  string
		reviewersJSON string
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(
		&p.ID, &kind, &p.Title, &p.Abstract, &keywordsJSON, &p.OwnerName, &p.OwnerEmail,
		&p.Department, &p.UpdateNotes, &p.DocumentRef, &p.SupportingRef, &status,
		&reviewersJSON, &p.AdminNotes, &p.Decision, &p.Revision, &createdAt, &updatedAt,
	); err != nil {
		return proposal.Proposal{}, err
	}
	keywords, err := decodeStrings(keywordsJSON)
	if err != nil {
		return proposal.Proposal{}, fmt.Errorf("decode proposal keywords: %w", err)
	}
	reviewers, err := decodeStrings(reviewersJSON)
	if err != nil {
		return proposal.Proposal{}, fmt.Errorf("decode proposal reviewers: %w", err)
	}
	p.Kind = proposal.Kind(kind)
	p.Status = proposal.Status(status)
	p.Keywords = keywords
	p.ReviewerIDs = reviewers
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}
