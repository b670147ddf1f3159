package assignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// ReviewEntry is what a reviewer sees after opening a review link.
type ReviewEntry struct {
	Proposal   proposal.View
	Assignment storage.ReviewerAssignment
	ExpiresAt  time.Time
	// ReadOnly is set once the review was submitted.
	ReadOnly bool
}

// ReviewInput is a reviewer's submitted evaluation.
type ReviewInput struct {
	Mark               *float64
	MarkSheetRef       string
	EvaluationSheetRef string
}

// VerifyReviewToken resolves a reviewer-review token. The token only works
// while the proposal still lists the reviewer and the assignment exists;
// removing either revokes it with CodeNotFound.
func (s *Service) VerifyReviewToken(ctx context.Context, token string) (entry ReviewEntry, err error) {
	ctx, span := startSpan(ctx, "verify_review_token")
	defer func() { endSpan(span, err) }()

	claims, err := s.verify(token, capability.PurposeReviewerReview)
	if err != nil {
		return ReviewEntry{}, err
	}
	p, a, err := s.resolveReview(ctx, claims)
	if err != nil {
		return ReviewEntry{}, err
	}
	return ReviewEntry{
		Proposal:   p.PublicView(),
		Assignment: a,
		ExpiresAt:  claims.ExpiresAt,
		ReadOnly:   a.Status == storage.AssignmentCompleted,
	}, nil
}

// SubmitReview records the reviewer's evaluation on a pending assignment.
// A second submission fails with CodeAssignmentNotPending.
func (s *Service) SubmitReview(ctx context.Context, token string, in ReviewInput) (assignment storage.ReviewerAssignment, err error) {
	ctx, span := startSpan(ctx, "submit_review")
	defer func() { endSpan(span, err) }()

	if in.Mark == nil || math.IsNaN(*in.Mark) || math.IsInf(*in.Mark, 0) || *in.Mark < 0 {
		return storage.ReviewerAssignment{}, apperrors.WithMetadata(apperrors.CodeProposalInvalidField, "mark must be a non-negative number", map[string]string{"Field": "mark"})
	}
	claims, err := s.verify(token, capability.PurposeReviewerReview)
	if err != nil {
		return storage.ReviewerAssignment{}, err
	}
	_, current, err := s.resolveReview(ctx, claims)
	if err != nil {
		return storage.ReviewerAssignment{}, err
	}
	if current.Status != storage.AssignmentPending {
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentNotPending, "review already submitted")
	}

	completedAt := s.now().UTC()
	mark := *in.Mark
	current.Status = storage.AssignmentCompleted
	current.Mark = &mark
	current.MarkSheetRef = strings.TrimSpace(in.MarkSheetRef)
	current.EvaluationSheetRef = strings.TrimSpace(in.EvaluationSheetRef)
	current.CompletedAt = &completedAt
	if err := s.assignments.CompleteAssignment(ctx, current); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentNotPending, "review already submitted")
		case errors.Is(err, storage.ErrNotFound):
			return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeNotFound, "assignment not found")
		}
		return storage.ReviewerAssignment{}, fmt.Errorf("complete assignment: %w", err)
	}
	s.logf("assignment completed reviewer_id=%s proposal_id=%s mark=%g", current.ReviewerID, current.ProposalID, mark)
	return current, nil
}

func (s *Service) resolveReview(ctx context.Context, claims capability.Claims) (proposal.Proposal, storage.ReviewerAssignment, error) {
	subject := claims.Subject
	p, err := s.getProposal(ctx, subject.ProposalID)
	if err != nil {
		return proposal.Proposal{}, storage.ReviewerAssignment{}, err
	}
	if !p.HasReviewer(subject.ReviewerID) || string(p.Kind) != subject.ProposalKind {
		return proposal.Proposal{}, storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeNotFound, "reviewer no longer assigned to proposal")
	}
	a, err := s.assignments.GetAssignment(ctx, subject.ReviewerID, subject.ProposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proposal.Proposal{}, storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeNotFound, "assignment not found")
		}
		return proposal.Proposal{}, storage.ReviewerAssignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return p, a, nil
}
