package assignment

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage/sqlite"
)

var startTime = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
	block    chan struct{}
}

func (n *fakeNotifier) Send(ctx context.Context, msg notify.Message) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *fakeNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) Logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *logRecorder) contains(fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

type harness struct {
	svc      *Service
	store    *sqlite.Store
	tokens   *capability.Authority
	notifier *fakeNotifier
	logs     *logRecorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, notifier: &fakeNotifier{}, logs: &logRecorder{}, now: startTime}
	clock := func() time.Time { return h.now }
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(2 * i)
	}
	h.tokens, err = capability.NewAuthority(capability.Config{
		Issuer:   "reviewdesk-test",
		Audience: "reviewdesk-links",
		Key:      ed25519.NewKeyFromSeed(seed),
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	h.svc, err = NewService(Config{
		Proposals:           store,
		Reviewers:           store,
		Assignments:         store,
		Tokens:              h.tokens,
		Notifier:            h.notifier,
		PublicBaseURL:       "https://desk.example",
		NotifyTimeout:       50 * time.Millisecond,
		CompensationTimeout: time.Second,
		Now:                 clock,
		Logf:                h.logs.Logf,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	if err := store.CreateReviewer(ctx, storage.Reviewer{ID: "r1", Name: "Grace", Email: "grace@example.com", CreatedAt: startTime}); err != nil {
		t.Fatalf("seed reviewer: %v", err)
	}
	if err := store.CreateProposal(ctx, proposal.Proposal{
		ID:          "p1",
		Kind:        proposal.KindStudent,
		Title:       "Tidal energy",
		OwnerName:   "Ada",
		OwnerEmail:  "ada@example.com",
		Status:      proposal.StatusSubmitted,
		ReviewerIDs: []string{"r0"},
		CreatedAt:   startTime,
		UpdatedAt:   startTime,
	}); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	return h
}

func (h *harness) proposal(t *testing.T) proposal.Proposal {
	t.Helper()
	p, err := h.store.GetProposal(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	return p
}

func (h *harness) reviewToken(t *testing.T) string {
	t.Helper()
	sent := h.notifier.sent()
	if len(sent) == 0 {
		t.Fatal("no review email sent")
	}
	body := sent[len(sent)-1].TextBody
	_, after, ok := strings.Cut(body, ReviewPath+"?token=")
	if !ok {
		t.Fatalf("review link missing from %q", body)
	}
	token, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(token)
}

func requireCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("error = %v (code %s), want code %s", err, got, want)
	}
}

func TestAssignCommitsAndNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	got, err := h.svc.Assign(ctx, "r1", "p1", "student")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != storage.AssignmentPending || got.ProposalKind != proposal.KindStudent {
		t.Fatalf("unexpected assignment: %+v", got)
	}
	p := h.proposal(t)
	if !reflect.DeepEqual(p.ReviewerIDs, []string{"r0", "r1"}) || p.Status != proposal.StatusUnderReview {
		t.Fatalf("unexpected proposal: %+v", p)
	}
	stored, err := h.store.GetAssignment(ctx, "r1", "p1")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if stored.Status != storage.AssignmentPending {
		t.Fatalf("stored status = %s", stored.Status)
	}

	sent := h.notifier.sent()
	if len(sent) != 1 || sent[0].To != "grace@example.com" {
		t.Fatalf("sent = %+v", sent)
	}
	claims, err := h.tokens.Verify(h.reviewToken(t), capability.PurposeReviewerReview)
	if err != nil {
		t.Fatalf("verify emailed token: %v", err)
	}
	want := capability.Subject{ProposalID: "p1", ProposalKind: "student", ReviewerID: "r1"}
	if claims.Subject != want {
		t.Fatalf("subject = %+v, want %+v", claims.Subject, want)
	}
	if !claims.ExpiresAt.Equal(startTime.Add(capability.ReviewerMaxTTL)) {
		t.Fatalf("expires at = %s", claims.ExpiresAt)
	}
}

func TestAssignTwiceIsAlreadyAssigned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.svc.Assign(context.Background(), "r1", "p1", proposal.KindStudent); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err := h.svc.Assign(context.Background(), "r1", "p1", proposal.KindStudent)
	requireCode(t, err, apperrors.CodeAlreadyAssigned)
	if len(h.notifier.sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(h.notifier.sent()))
	}
}

func TestAssignExistingAssignmentRowIsAlreadyAssigned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.store.CreateAssignment(context.Background(), storage.ReviewerAssignment{
		ReviewerID: "r1", ProposalID: "p1", ProposalKind: proposal.KindStudent, Status: storage.AssignmentPending,
	}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	_, err := h.svc.Assign(context.Background(), "r1", "p1", proposal.KindStudent)
	requireCode(t, err, apperrors.CodeAlreadyAssigned)
	if p := h.proposal(t); p.HasReviewer("r1") {
		t.Fatal("proposal must not gain the reviewer")
	}
}

func TestAssignValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	testCases := []struct {
		name       string
		reviewerID string
		proposalID string
		kind       proposal.Kind
		want       apperrors.Code
	}{
		{name: "empty reviewer", proposalID: "p1", kind: "student", want: apperrors.CodeAssignmentEmptyReviewerID},
		{name: "empty proposal", reviewerID: "r1", kind: "student", want: apperrors.CodeAssignmentEmptyProposalID},
		{name: "bad kind", reviewerID: "r1", proposalID: "p1", kind: "staff", want: apperrors.CodeAssignmentInvalidKind},
		{name: "kind mismatch", reviewerID: "r1", proposalID: "p1", kind: "teacher", want: apperrors.CodeAssignmentInvalidKind},
		{name: "missing reviewer", reviewerID: "r404", proposalID: "p1", kind: "student", want: apperrors.CodeNotFound},
		{name: "missing proposal", reviewerID: "r1", proposalID: "p404", kind: "student", want: apperrors.CodeNotFound},
	}
	for _, tc := range testCases {
		_, err := h.svc.Assign(context.Background(), tc.reviewerID, tc.proposalID, tc.kind)
		if got := apperrors.CodeOf(err); got != tc.want {
			t.Fatalf("%s: code = %s (%v), want %s", tc.name, got, err, tc.want)
		}
	}
}

func TestAssignNotificationFailureRestoresState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	before := h.proposal(t)
	h.notifier.err = errors.New("smtp 451")

	_, err := h.svc.Assign(ctx, "r1", "p1", proposal.KindStudent)
	requireCode(t, err, apperrors.CodeNotificationFailed)

	after := h.proposal(t)
	if !reflect.DeepEqual(after.ReviewerIDs, before.ReviewerIDs) || after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("proposal not restored:\nbefore %+v\nafter  %+v", before, after)
	}
	if after.Revision != before.Revision+2 {
		t.Fatalf("revision = %d, want %d after add and restore", after.Revision, before.Revision+2)
	}
	if _, err := h.store.GetAssignment(ctx, "r1", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("assignment still stored: %v", err)
	}
	if !h.logs.contains("assignment notify failed") {
		t.Fatal("expected notify failure to be logged")
	}

	h.notifier.err = nil
	if _, err := h.svc.Assign(ctx, "r1", "p1", proposal.KindStudent); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestAssignNotificationTimeoutRestoresState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.notifier.block = make(chan struct{})
	defer close(h.notifier.block)
	before := h.proposal(t)

	start := time.Now()
	_, err := h.svc.Assign(context.Background(), "r1", "p1", proposal.KindStudent)
	requireCode(t, err, apperrors.CodeNotificationFailed)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded in chain", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("assign blocked for %s", elapsed)
	}
	after := h.proposal(t)
	if !reflect.DeepEqual(after.ReviewerIDs, before.ReviewerIDs) || after.Status != before.Status {
		t.Fatalf("proposal not restored: %+v", after)
	}
	if _, err := h.store.GetAssignment(context.Background(), "r1", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("assignment still stored: %v", err)
	}
}

func TestAssignRollbackKeepsConcurrentReviewers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.svc.notifier = notifierFunc(func(ctx context.Context, msg notify.Message) error {
		p := h.proposal(t)
		p.ReviewerIDs = append(p.ReviewerIDs, "r2")
		if _, err := h.store.UpdateProposal(ctx, p); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
		return errors.New("smtp down")
	})

	_, err := h.svc.Assign(ctx, "r1", "p1", proposal.KindStudent)
	requireCode(t, err, apperrors.CodeNotificationFailed)
	if got := h.proposal(t).ReviewerIDs; !reflect.DeepEqual(got, []string{"r0", "r2"}) {
		t.Fatalf("reviewers = %v, want [r0 r2]", got)
	}
}

type notifierFunc func(ctx context.Context, msg notify.Message) error

func (f notifierFunc) Send(ctx context.Context, msg notify.Message) error {
	return f(ctx, msg)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewService(Config{}); err == nil {
		t.Fatal("expected missing collaborator error")
	}
}
