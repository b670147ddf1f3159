package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/saga"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

const (
	stepAddReviewer      = "add_reviewer"
	stepCreateAssignment = "create_assignment"
	stepNotifyReviewer   = "notify_reviewer"

	maxRestoreAttempts = 3
)

// Assign adds reviewerID to the proposal, records a pending assignment and
// emails the reviewer a review link. Either all three happen or, when the
// email fails, the first two are undone and CodeNotificationFailed is
// returned. The undo restores the proposal's fields but not its revision:
// the revision keeps counting up, so it ends two past its value before the
// call.
func (s *Service) Assign(ctx context.Context, reviewerID, proposalID string, kind proposal.Kind) (assignment storage.ReviewerAssignment, err error) {
	ctx, span := startSpan(ctx, "assign")
	defer func() { endSpan(span, err) }()

	reviewerID = strings.TrimSpace(reviewerID)
	proposalID = strings.TrimSpace(proposalID)
	span.SetAttributes(attribute.String("reviewer.id", reviewerID), attribute.String("proposal.id", proposalID))
	switch {
	case reviewerID == "":
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentEmptyReviewerID, "reviewer id is required")
	case proposalID == "":
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentEmptyProposalID, "proposal id is required")
	}
	kind, ok := proposal.ParseKind(string(kind))
	if !ok {
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentInvalidKind, "proposal kind must be student or teacher")
	}

	reviewer, err := s.getReviewer(ctx, reviewerID)
	if err != nil {
		return storage.ReviewerAssignment{}, err
	}
	before, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return storage.ReviewerAssignment{}, err
	}
	if before.Kind != kind {
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAssignmentInvalidKind, "proposal kind does not match")
	}
	if before.HasReviewer(reviewerID) {
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAlreadyAssigned, "reviewer already listed on proposal")
	}
	if _, err := s.assignments.GetAssignment(ctx, reviewerID, proposalID); err == nil {
		return storage.ReviewerAssignment{}, apperrors.New(apperrors.CodeAlreadyAssigned, "reviewer already assigned")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.ReviewerAssignment{}, fmt.Errorf("get assignment: %w", err)
	}

	token, claims, err := s.tokens.Issue(capability.PurposeReviewerReview, capability.Subject{
		ProposalID:   proposalID,
		ProposalKind: string(kind),
		ReviewerID:   reviewerID,
	}, s.reviewTTL)
	if err != nil {
		return storage.ReviewerAssignment{}, fmt.Errorf("issue review token: %w", err)
	}
	msg, err := s.renderer.ReviewerReview(notify.ReviewerReview{
		To:            reviewer.Email,
		ReviewerName:  reviewer.Name,
		ProposalTitle: before.Title,
		Until:         claims.ExpiresAt,
		Link:          s.link(ReviewPath, token),
	})
	if err != nil {
		return storage.ReviewerAssignment{}, fmt.Errorf("render review email: %w", err)
	}

	now := s.now().UTC()
	assignment = storage.ReviewerAssignment{
		ReviewerID:   reviewerID,
		ProposalID:   proposalID,
		ProposalKind: kind,
		Status:       storage.AssignmentPending,
		CreatedAt:    now,
	}
	err = saga.Run(ctx, saga.Options{CompensationTimeout: s.compensationTimeout, Logf: s.logf},
		saga.Step{
			Name: stepAddReviewer,
			Action: func(ctx context.Context) error {
				next, _ := before.WithReviewer(reviewerID)
				next.UpdatedAt = now
				_, err := s.proposals.UpdateProposal(ctx, next)
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.removeReviewer(ctx, before, reviewerID)
			},
		},
		saga.Step{
			Name: stepCreateAssignment,
			Action: func(ctx context.Context) error {
				return s.assignments.CreateAssignment(ctx, assignment)
			},
			Compensate: func(ctx context.Context) error {
				err := s.assignments.DeleteAssignment(ctx, reviewerID, proposalID)
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		saga.Step{
			Name: stepNotifyReviewer,
			Action: func(ctx context.Context) error {
				return notify.SendWithin(ctx, s.notifier, msg, s.notifyTimeout)
			},
		},
	)
	if err != nil {
		return storage.ReviewerAssignment{}, s.assignFailure(reviewerID, proposalID, err)
	}

	s.logf("assignment created reviewer_id=%s proposal_id=%s kind=%s", reviewerID, proposalID, kind)
	return assignment, nil
}

func (s *Service) assignFailure(reviewerID, proposalID string, err error) error {
	var compErr *saga.CompensationError
	if errors.As(err, &compErr) {
		s.logf("assignment rollback incomplete reviewer_id=%s proposal_id=%s steps=%s err=%v",
			reviewerID, proposalID, strings.Join(compErr.Failed, ","), compErr.Err)
	}
	var stepErr *saga.StepError
	if errors.As(err, &stepErr) && stepErr.Step == stepNotifyReviewer {
		s.logf("assignment notify failed reviewer_id=%s proposal_id=%s err=%v", reviewerID, proposalID, stepErr.Err)
		return apperrors.Wrap(apperrors.CodeNotificationFailed, "send review email", err)
	}
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperrors.Wrap(apperrors.CodeAlreadyAssigned, "reviewer already assigned", err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConflict, "proposal changed during assignment", err)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "assignment target vanished", err)
	}
	return fmt.Errorf("assign reviewer: %w", err)
}

// removeReviewer undoes the proposal half of an assignment: reviewerID leaves
// the reviewer list and status, reviewer order and updated time return to
// their pre-assignment values. Writes from other actors that landed in
// between are kept. Revision is not restored: the restore is itself a
// conditional write and bumps it again.
func (s *Service) removeReviewer(ctx context.Context, before proposal.Proposal, reviewerID string) error {
	for attempt := 1; ; attempt++ {
		current, err := s.proposals.GetProposal(ctx, before.ID)
		if err != nil {
			return fmt.Errorf("reload proposal: %w", err)
		}
		restored := current.Clone()
		restored.ReviewerIDs = slices.DeleteFunc(restored.ReviewerIDs, func(id string) bool { return id == reviewerID })
		if len(restored.ReviewerIDs) == 0 {
			restored.ReviewerIDs = nil
		}
		restored.Status = before.Status
		restored.UpdatedAt = before.UpdatedAt

		_, err = s.proposals.UpdateProposal(ctx, restored)
		if errors.Is(err, storage.ErrConflict) && attempt < maxRestoreAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("restore proposal: %w", err)
		}
		return nil
	}
}
