// Package assignment assigns reviewers to proposals and serves the
// reviewer-facing capability links that follow from an assignment.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

var tracer = otel.Tracer("github.com/louisbranch/reviewdesk/internal/services/review/assignment")

const (
	// ReviewPath is the public path review links point at.
	ReviewPath = "/reviews/enter"
	// InvoicePath is the public path invoice links point at.
	InvoicePath = "/invoices/enter"
)

// ProposalStore loads and conditionally writes proposals.
type ProposalStore interface {
	GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error)
	UpdateProposal(ctx context.Context, p proposal.Proposal) (proposal.Proposal, error)
}

// ReviewerStore loads reviewers.
type ReviewerStore interface {
	GetReviewer(ctx context.Context, reviewerID string) (storage.Reviewer, error)
}

// TokenAuthority issues and verifies capability tokens.
type TokenAuthority interface {
	Issue(purpose capability.Purpose, subject capability.Subject, ttl time.Duration) (string, capability.Claims, error)
	Verify(token string, expected capability.Purpose) (capability.Claims, error)
}

// Config wires the collaborators of a Service.
type Config struct {
	Proposals   ProposalStore
	Reviewers   ReviewerStore
	Assignments storage.AssignmentStore
	Tokens      TokenAuthority
	Notifier    notify.Notifier
	Renderer    *notify.Renderer

	PublicBaseURL       string
	NotifyTimeout       time.Duration
	CompensationTimeout time.Duration
	// ReviewTTL and InvoiceTTL default to capability.ReviewerMaxTTL.
	ReviewTTL  time.Duration
	InvoiceTTL time.Duration

	Now  func() time.Time
	Logf func(format string, args ...any)
}

// Service runs reviewer assignment and the reviewer link operations.
type Service struct {
	proposals           ProposalStore
	reviewers           ReviewerStore
	assignments         storage.AssignmentStore
	tokens              TokenAuthority
	notifier            notify.Notifier
	renderer            *notify.Renderer
	baseURL             string
	notifyTimeout       time.Duration
	compensationTimeout time.Duration
	reviewTTL           time.Duration
	invoiceTTL          time.Duration
	now                 func() time.Time
	logf                func(format string, args ...any)
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Proposals == nil:
		return nil, errors.New("proposal store is required")
	case cfg.Reviewers == nil:
		return nil, errors.New("reviewer store is required")
	case cfg.Assignments == nil:
		return nil, errors.New("assignment store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token authority is required")
	case cfg.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse public base url: %w", err)
	}
	s := &Service{
		proposals:           cfg.Proposals,
		reviewers:           cfg.Reviewers,
		assignments:         cfg.Assignments,
		tokens:              cfg.Tokens,
		notifier:            cfg.Notifier,
		renderer:            cfg.Renderer,
		baseURL:             baseURL,
		notifyTimeout:       cfg.NotifyTimeout,
		compensationTimeout: cfg.CompensationTimeout,
		reviewTTL:           cfg.ReviewTTL,
		invoiceTTL:          cfg.InvoiceTTL,
		now:                 cfg.Now,
		logf:                cfg.Logf,
	}
	if s.renderer == nil {
		s.renderer = notify.NewRenderer("")
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = timeouts.Notify
	}
	if s.compensationTimeout <= 0 {
		s.compensationTimeout = timeouts.Compensation
	}
	if s.reviewTTL <= 0 {
		s.reviewTTL = capability.ReviewerMaxTTL
	}
	if s.invoiceTTL <= 0 {
		s.invoiceTTL = capability.ReviewerMaxTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logf == nil {
		s.logf = log.Printf
	}
	return s, nil
}

func (s *Service) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) getReviewer(ctx context.Context, reviewerID string) (storage.Reviewer, error) {
	reviewer, err := s.reviewers.GetReviewer(ctx, reviewerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Reviewer{}, apperrors.WithMetadata(apperrors.CodeNotFound, "reviewer not found", map[string]string{"Entity": "reviewer"})
		}
		return storage.Reviewer{}, fmt.Errorf("get reviewer: %w", err)
	}
	return reviewer, nil
}

func (s *Service) getProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	p, err := s.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeNotFound, "proposal not found", map[string]string{"Entity": "proposal"})
		}
		return proposal.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// verify checks a reviewer token and logs tokens presented to the wrong
// operation.
func (s *Service) verify(token string, purpose capability.Purpose) (capability.Claims, error) {
	claims, err := s.tokens.Verify(token, purpose)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeTokenWrongPurpose) {
			s.logf("assignment token presented with wrong purpose expected=%s err=%v", purpose, err)
		}
		return capability.Claims{}, err
	}
	return claims, nil
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "assignment."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
