package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

var fixedNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotentOnExistingDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "review.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close reopened: %v", err)
	}
}

func TestProposalRoundTripAndRevisionGuard(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedProposal(t, store, "p1")

	got, err := store.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Revision != 1 || got.Kind != proposal.KindStudent || !reflect.DeepEqual(got.Keywords, []string{"energy"}) {
		t.Fatalf("unexpected proposal: %+v", got)
	}
	if got.ReviewerIDs != nil {
		t.Fatalf("expected no reviewers, got %v", got.ReviewerIDs)
	}

	next, _ := got.WithReviewer("r1")
	stored, err := store.UpdateProposal(ctx, next)
	if err != nil {
		t.Fatalf("update proposal: %v", err)
	}
	if stored.Revision != 2 {
		t.Fatalf("revision = %d, want 2", stored.Revision)
	}

	if _, err := store.UpdateProposal(ctx, next); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale update error = %v, want %v", err, storage.ErrConflict)
	}

	reloaded, err := store.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("reload proposal: %v", err)
	}
	if reloaded.Status != proposal.StatusUnderReview || !reflect.DeepEqual(reloaded.ReviewerIDs, []string{"r1"}) {
		t.Fatalf("unexpected reloaded proposal: %+v", reloaded)
	}

	missing := next
	missing.ID = "nope"
	if _, err := store.UpdateProposal(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing update error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestCreateProposalRejectsDuplicates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedProposal(t, store, "p1")
	err := store.CreateProposal(context.Background(), proposal.Proposal{ID: "p1", Kind: proposal.KindTeacher, Title: "x", OwnerName: "x", OwnerEmail: "x@example.com"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate create error = %v, want %v", err, storage.ErrAlreadyExists)
	}
}

func TestReviewerRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedReviewer(t, store, "r1")

	got, err := store.GetReviewer(ctx, "r1")
	if err != nil {
		t.Fatalf("get reviewer: %v", err)
	}
	if got.Email != "r1@example.com" || !got.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected reviewer: %+v", got)
	}
	if _, err := store.GetReviewer(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing reviewer error = %v", err)
	}
}

func TestRequestLifecycleWrites(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedProposal(t, store, "p1")

	validUntil := fixedNow.Add(7 * 24 * time.Hour)
	request := storage.Request{
		ID:               "req-1",
		TargetID:         "p1",
		TargetKind:       proposal.KindStudent,
		RecipientAddress: "ada@example.com",
		IssuerID:         "admin-1",
		Message:          "please fix the budget",
		CreatedAt:        fixedNow,
		ValidUntil:       validUntil,
		EvaluationRefs:   []string{"eval-1"},
	}
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.CreateRequest(ctx, request); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate request error = %v", err)
	}

	got, err := store.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != storage.RequestSent || !got.ValidUntil.Equal(validUntil) || got.SubmittedAt != nil {
		t.Fatalf("unexpected request: %+v", got)
	}
	if !reflect.DeepEqual(got.EvaluationRefs, []string{"eval-1"}) {
		t.Fatalf("evaluation refs = %v", got.EvaluationRefs)
	}

	moved, err := store.MarkRequestViewed(ctx, "req-1")
	if err != nil || !moved {
		t.Fatalf("mark viewed moved=%v err=%v", moved, err)
	}
	moved, err = store.MarkRequestViewed(ctx, "req-1")
	if err != nil || moved {
		t.Fatalf("second mark viewed moved=%v err=%v", moved, err)
	}

	if err := store.MarkRequestUpdated(ctx, "req-1", validUntil.Add(time.Second)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired update error = %v, want %v", err, storage.ErrNotFound)
	}
	submittedAt := fixedNow.Add(72 * time.Hour)
	if err := store.MarkRequestUpdated(ctx, "req-1", submittedAt); err != nil {
		t.Fatalf("mark updated: %v", err)
	}
	got, err = store.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if got.Status != storage.RequestUpdated || got.SubmittedAt == nil || !got.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("unexpected updated request: %+v", got)
	}
	if err := store.MarkRequestUpdated(ctx, "req-1", submittedAt.Add(time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second update error = %v, want %v", err, storage.ErrNotFound)
	}
	if moved, _ := store.MarkRequestViewed(ctx, "req-1"); moved {
		t.Fatal("updated request must not move back to viewed")
	}
}

func TestCreateRequestRequiresExistingProposal(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.CreateRequest(context.Background(), storage.Request{
		ID:         "req-1",
		TargetID:   "missing",
		TargetKind: proposal.KindStudent,
		CreatedAt:  fixedNow,
		ValidUntil: fixedNow.Add(time.Hour),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("create request error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestDeleteRequestRemovesMarker(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedProposal(t, store, "p1")
	if err := store.CreateRequest(ctx, storage.Request{
		ID: "req-1", TargetID: "p1", TargetKind: proposal.KindStudent,
		CreatedAt: fixedNow, ValidUntil: fixedNow.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.PutMarker(ctx, storage.ExpiryMarker{RequestID: "req-1", ExpiresAt: fixedNow.Add(30 * time.Minute)}); err != nil {
		t.Fatalf("put marker: %v", err)
	}

	if err := store.DeleteRequest(ctx, "req-1"); err != nil {
		t.Fatalf("delete request: %v", err)
	}
	if _, err := store.GetRequest(ctx, "req-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted request error = %v", err)
	}
	if _, err := store.GetMarker(ctx, "req-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted marker error = %v", err)
	}
	if err := store.DeleteRequest(ctx, "req-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestMarkerUpsertAndReap(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutMarker(ctx, storage.ExpiryMarker{RequestID: "req-1", ExpiresAt: fixedNow.Add(time.Minute)}); err != nil {
		t.Fatalf("put marker: %v", err)
	}
	if err := store.PutMarker(ctx, storage.ExpiryMarker{RequestID: "req-1", ExpiresAt: fixedNow.Add(30 * time.Minute)}); err != nil {
		t.Fatalf("refresh marker: %v", err)
	}
	if err := store.PutMarker(ctx, storage.ExpiryMarker{RequestID: "req-2", ExpiresAt: fixedNow}); err != nil {
		t.Fatalf("put second marker: %v", err)
	}

	marker, err := store.GetMarker(ctx, "req-1")
	if err != nil {
		t.Fatalf("get marker: %v", err)
	}
	if !marker.ExpiresAt.Equal(fixedNow.Add(30 * time.Minute)) {
		t.Fatalf("expires at = %s", marker.ExpiresAt)
	}

	removed, err := store.DeleteExpiredMarkers(ctx, fixedNow)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.GetMarker(ctx, "req-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected req-2 reaped, got %v", err)
	}
	if err := store.DeleteMarker(ctx, "req-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete missing marker error = %v", err)
	}
}

func TestAssignmentUniquenessAndCompletion(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedProposal(t, store, "p1")
	seedReviewer(t, store, "r1")

	assignment := storage.ReviewerAssignment{
		ReviewerID:   "r1",
		ProposalID:   "p1",
		ProposalKind: proposal.KindStudent,
		CreatedAt:    fixedNow,
	}
	if err := store.CreateAssignment(ctx, assignment); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := store.CreateAssignment(ctx, assignment); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate assignment error = %v", err)
	}

	got, err := store.GetAssignment(ctx, "r1", "p1")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if got.Status != storage.AssignmentPending || got.Mark != nil {
		t.Fatalf("unexpected assignment: %+v", got)
	}

	mark := 8.5
	completedAt := fixedNow.Add(time.Hour)
	got.Mark = &mark
	got.MarkSheetRef = "marks-1"
	got.EvaluationSheetRef = "eval-1"
	got.CompletedAt = &completedAt
	if err := store.CompleteAssignment(ctx, got); err != nil {
		t.Fatalf("complete assignment: %v", err)
	}
	if err := store.CompleteAssignment(ctx, got); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second completion error = %v, want %v", err, storage.ErrConflict)
	}

	list, err := store.ListProposalAssignments(ctx, "p1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(list) != 1 || list[0].Status != storage.AssignmentCompleted || *list[0].Mark != 8.5 || list[0].MarkSheetRef != "marks-1" {
		t.Fatalf("unexpected assignments: %+v", list)
	}

	if err := store.DeleteAssignment(ctx, "r1", "p1"); err != nil {
		t.Fatalf("delete assignment: %v", err)
	}
	if _, err := store.GetAssignment(ctx, "r1", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted assignment error = %v", err)
	}
	if err := store.DeleteAssignment(ctx, "r1", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete missing assignment error = %v", err)
	}
}

func TestCreateAssignmentRequiresReviewerRow(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedProposal(t, store, "p1")
	err := store.CreateAssignment(context.Background(), storage.ReviewerAssignment{
		ReviewerID: "ghost", ProposalID: "p1", ProposalKind: proposal.KindStudent,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("create assignment error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStoreHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetProposal(ctx, "p1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "review.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.now = func() time.Time { return fixedNow }
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func seedProposal(t *testing.T, store *Store, proposalID string) {
	t.Helper()
	err := store.CreateProposal(context.Background(), proposal.Proposal{
		ID:         proposalID,
		Kind:       proposal.KindStudent,
		Title:      "Tidal energy",
		Keywords:   []string{"energy"},
		OwnerName:  "Ada",
		OwnerEmail: "ada@example.com",
		CreatedAt:  fixedNow,
	})
	if err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
}

func seedReviewer(t *testing.T, store *Store, reviewerID string) {
	t.Helper()
	if err := store.CreateReviewer(context.Background(), storage.Reviewer{
		ID:    reviewerID,
		Name:  "Reviewer " + reviewerID,
		Email: reviewerID + "@example.com",
	}); err != nil {
		t.Fatalf("seed reviewer: %v", err)
	}
}

func TestCommitSubmissionIsAllOrNothing(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedProposal(t, store, "p1")
	validUntil := fixedNow.Add(time.Hour)
	if err := store.CreateRequest(ctx, storage.Request{
		ID: "req-1", TargetID: "p1", TargetKind: proposal.KindStudent,
		RecipientAddress: "ada@example.com", IssuerID: "admin-1",
		CreatedAt: fixedNow, ValidUntil: validUntil,
	}); err != nil {
		t.Fatalf("create request: %v", err)
	}
	current, err := store.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}

	requireUntouched := func(t *testing.T, wantRevision int64, wantStatus storage.RequestStatus) {
		t.Helper()
		p, err := store.GetProposal(ctx, "p1")
		if err != nil {
			t.Fatalf("get proposal: %v", err)
		}
		if p.Revision != wantRevision {
			t.Fatalf("revision = %d, want %d", p.Revision, wantRevision)
		}
		r, err := store.GetRequest(ctx, "req-1")
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if r.Status != wantStatus {
			t.Fatalf("status = %q, want %q", r.Status, wantStatus)
		}
	}

	stale := current.Clone()
	stale.Revision = 99
	stale.UpdateNotes = "stale"
	if _, err := store.CommitSubmission(ctx, "req-1", fixedNow, stale); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale revision error = %v, want ErrConflict", err)
	}
	requireUntouched(t, 1, storage.RequestSent)

	next := current.Clone()
	next.UpdateNotes = "done"
	if _, err := store.CommitSubmission(ctx, "req-1", validUntil.Add(time.Second), next); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired request error = %v, want ErrNotFound", err)
	}
	requireUntouched(t, 1, storage.RequestSent)

	stored, err := store.CommitSubmission(ctx, "req-1", fixedNow, next)
	if err != nil {
		t.Fatalf("commit submission: %v", err)
	}
	if stored.Revision != 2 || stored.UpdateNotes != "done" {
		t.Fatalf("stored = %+v", stored)
	}
	requireUntouched(t, 2, storage.RequestUpdated)

	again := stored.Clone()
	again.UpdateNotes = "twice"
	if _, err := store.CommitSubmission(ctx, "req-1", fixedNow, again); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second commit error = %v, want ErrNotFound", err)
	}
	requireUntouched(t, 2, storage.RequestUpdated)
}
