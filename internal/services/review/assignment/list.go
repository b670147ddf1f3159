package assignment

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

const (
	// OrderByCreatedAt lists assignments oldest first.
	OrderByCreatedAt = "created_at"
	// OrderByReviewerID lists assignments by reviewer id.
	OrderByReviewerID = "reviewer_id"
)

// ListAssignments returns up to limit assignments of proposalID. A
// non-positive limit returns all of them.
func (s *Service) ListAssignments(ctx context.Context, proposalID, orderBy string, limit int) (list []storage.ReviewerAssignment, err error) {
	ctx, span := startSpan(ctx, "list_assignments")
	defer func() { endSpan(span, err) }()

	proposalID = strings.TrimSpace(proposalID)
	if _, err := s.getProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	list, err = s.assignments.ListProposalAssignments(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	switch orderBy {
	case "", OrderByCreatedAt:
		slices.SortStableFunc(list, func(a, b storage.ReviewerAssignment) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	case OrderByReviewerID:
		slices.SortStableFunc(list, func(a, b storage.ReviewerAssignment) int {
			return cmp.Compare(a.ReviewerID, b.ReviewerID)
		})
	default:
		return nil, fmt.Errorf("unsupported order %q", orderBy)
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
