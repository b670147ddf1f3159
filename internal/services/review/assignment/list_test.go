package assignment

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

func reviewerIDs(list []storage.ReviewerAssignment) []string {
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ReviewerID)
	}
	return ids
}

func TestListAssignmentsOrdersAndLimits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.CreateReviewer(ctx, storage.Reviewer{ID: "r2", Name: "Alan", Email: "alan@example.com", CreatedAt: startTime}); err != nil {
		t.Fatalf("seed reviewer: %v", err)
	}
	if _, err := h.svc.Assign(ctx, "r2", "p1", proposal.KindStudent); err != nil {
		t.Fatalf("assign r2: %v", err)
	}
	h.now = h.now.Add(time.Minute)
	if _, err := h.svc.Assign(ctx, "r1", "p1", proposal.KindStudent); err != nil {
		t.Fatalf("assign r1: %v", err)
	}

	list, err := h.svc.ListAssignments(ctx, "p1", OrderByCreatedAt, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := reviewerIDs(list); len(got) != 2 || got[0] != "r2" || got[1] != "r1" {
		t.Fatalf("created_at order = %v", got)
	}

	list, err = h.svc.ListAssignments(ctx, "p1", OrderByReviewerID, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := reviewerIDs(list); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("reviewer_id order with limit = %v", got)
	}
}

func TestListAssignmentsUnknownProposal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.ListAssignments(context.Background(), "missing", "", 0)
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestListAssignmentsRejectsUnknownOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.svc.ListAssignments(context.Background(), "p1", "mark", 0); err == nil {
		t.Fatal("expected error for unknown order")
	}
}
