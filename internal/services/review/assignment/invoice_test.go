package assignment

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
)

func TestIssueAndVerifyInvoiceLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	link, err := h.svc.IssueInvoiceLink(ctx, "r1")
	if err != nil {
		t.Fatalf("issue invoice link: %v", err)
	}
	if !strings.HasPrefix(link.Link, "https://desk.example"+InvoicePath+"?token=") {
		t.Fatalf("link = %q", link.Link)
	}
	if !link.ExpiresAt.Equal(startTime.Add(capability.ReviewerMaxTTL)) {
		t.Fatalf("expires at = %s", link.ExpiresAt)
	}
	sent := h.notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0].TextBody, link.Link) {
		t.Fatalf("sent = %+v", sent)
	}

	token := strings.TrimPrefix(link.Link, "https://desk.example"+InvoicePath+"?token=")
	reviewer, err := h.svc.VerifyInvoiceToken(ctx, token)
	if err != nil {
		t.Fatalf("verify invoice token: %v", err)
	}
	if reviewer.ID != "r1" {
		t.Fatalf("reviewer = %+v", reviewer)
	}

	_, err = h.svc.VerifyReviewToken(ctx, token)
	requireCode(t, err, apperrors.CodeTokenWrongPurpose)
}

func TestIssueInvoiceLinkFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.IssueInvoiceLink(context.Background(), " ")
	requireCode(t, err, apperrors.CodeAssignmentEmptyReviewerID)
	_, err = h.svc.IssueInvoiceLink(context.Background(), "r404")
	requireCode(t, err, apperrors.CodeNotFound)

	h.notifier.err = errors.New("relay down")
	_, err = h.svc.IssueInvoiceLink(context.Background(), "r1")
	requireCode(t, err, apperrors.CodeNotificationFailed)
}
