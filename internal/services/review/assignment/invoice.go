package assignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// InvoiceLink is an emailed invoice countersign link.
type InvoiceLink struct {
	ReviewerID string
	Link       string
	ExpiresAt  time.Time
}

// IssueInvoiceLink mints a reviewer-invoice token for reviewerID and emails
// the countersign link.
func (s *Service) IssueInvoiceLink(ctx context.Context, reviewerID string) (link InvoiceLink, err error) {
	ctx, span := startSpan(ctx, "issue_invoice_link")
	defer func() { endSpan(span, err) }()

	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return InvoiceLink{}, apperrors.New(apperrors.CodeAssignmentEmptyReviewerID, "reviewer id is required")
	}
	reviewer, err := s.getReviewer(ctx, reviewerID)
	if err != nil {
		return InvoiceLink{}, err
	}
	token, claims, err := s.tokens.Issue(capability.PurposeReviewerInvoice, capability.Subject{ReviewerID: reviewerID}, s.invoiceTTL)
	if err != nil {
		return InvoiceLink{}, fmt.Errorf("issue invoice token: %w", err)
	}
	url := s.link(InvoicePath, token)
	msg, err := s.renderer.ReviewerInvoice(notify.ReviewerInvoice{
		To:           reviewer.Email,
		ReviewerName: reviewer.Name,
		Until:        claims.ExpiresAt,
		Link:         url,
	})
	if err != nil {
		return InvoiceLink{}, fmt.Errorf("render invoice email: %w", err)
	}
	if err := notify.SendWithin(ctx, s.notifier, msg, s.notifyTimeout); err != nil {
		s.logf("invoice notify failed reviewer_id=%s err=%v", reviewerID, err)
		return InvoiceLink{}, apperrors.Wrap(apperrors.CodeNotificationFailed, "send invoice email", err)
	}
	s.logf("invoice link sent reviewer_id=%s expires_at=%s", reviewerID, claims.ExpiresAt.Format(time.RFC3339))
	return InvoiceLink{ReviewerID: reviewerID, Link: url, ExpiresAt: claims.ExpiresAt}, nil
}

// VerifyInvoiceToken resolves a reviewer-invoice token to its reviewer.
// Deleting the reviewer revokes the token with CodeNotFound.
func (s *Service) VerifyInvoiceToken(ctx context.Context, token string) (storage.Reviewer, error) {
	claims, err := s.verify(token, capability.PurposeReviewerInvoice)
	if err != nil {
		return storage.Reviewer{}, err
	}
	return s.getReviewer(ctx, claims.Subject.ReviewerID)
}
