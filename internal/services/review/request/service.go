// Package request runs the update-request lifecycle: an administrator asks a
// proposal owner to revise their proposal, the owner opens the emailed
// capability link and submits changes before the request expires.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/reviewdesk/internal/platform/id"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/filestore"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

var tracer = otel.Tracer("github.com/louisbranch/reviewdesk/internal/services/review/request")

// ProposalStore loads proposals.
type ProposalStore interface {
	GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error)
}

// FileStore stores, resolves and removes artifacts.
type FileStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (filestore.Object, error)
	Delete(ctx context.Context, ref string) error
}

// TokenAuthority issues and verifies capability tokens.
type TokenAuthority interface {
	MaxTTL(purpose capability.Purpose) time.Duration
	IssueAt(purpose capability.Purpose, subject capability.Subject, issuedAt time.Time, ttl time.Duration) (string, capability.Claims, error)
	Verify(token string, expected capability.Purpose) (capability.Claims, error)
}

// ExpiryIndex tracks which requests are being viewed.
type ExpiryIndex interface {
	Enqueue(ctx context.Context, requestID string, capAt time.Time) (storage.ExpiryMarker, error)
	IsActive(ctx context.Context, requestID string) (bool, error)
	Remove(ctx context.Context, requestID string) error
}

// Config wires the collaborators of a Service.
type Config struct {
	Requests    storage.RequestStore
	Proposals   ProposalStore
	Submissions storage.SubmissionStore
	Files       FileStore
	Tokens      TokenAuthority
	Expiry      ExpiryIndex
	Notifier    notify.Notifier
	Renderer    *notify.Renderer

	// PublicBaseURL prefixes the links sent to recipients.
	PublicBaseURL string
	NotifyTimeout time.Duration

	Now   func() time.Time
	NewID func() (string, error)
	Logf  func(format string, args ...any)
}

// Service implements the update-request operations.
type Service struct {
	requests      storage.RequestStore
	proposals     ProposalStore
	submissions   storage.SubmissionStore
	files         FileStore
	tokens        TokenAuthority
	expiry        ExpiryIndex
	notifier      notify.Notifier
	renderer      *notify.Renderer
	baseURL       string
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() (string, error)
	logf          func(format string, args ...any)
	submitLocks   keyedMutex
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Requests == nil:
		return nil, errors.New("request store is required")
	case cfg.Proposals == nil:
		return nil, errors.New("proposal store is required")
	case cfg.Submissions == nil:
		return nil, errors.New("submission store is required")
	case cfg.Files == nil:
		return nil, errors.New("file store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token authority is required")
	case cfg.Expiry == nil:
		return nil, errors.New("expiry index is required")
	case cfg.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse public base url: %w", err)
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = notify.NewRenderer("")
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = timeouts.Notify
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		requests:      cfg.Requests,
		proposals:     cfg.Proposals,
		submissions:   cfg.Submissions,
		files:         cfg.Files,
		tokens:        cfg.Tokens,
		expiry:        cfg.Expiry,
		notifier:      cfg.Notifier,
		renderer:      renderer,
		baseURL:       baseURL,
		notifyTimeout: notifyTimeout,
		now:           now,
		newID:         newID,
		logf:          logf,
	}, nil
}

// View is the request as shown to the proposal owner.
type View struct {
	ID             string                `json:"id"`
	TargetID       string                `json:"target_id"`
	TargetKind     proposal.Kind         `json:"target_kind"`
	Message        string                `json:"message"`
	Status         storage.RequestStatus `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	ValidUntil     time.Time             `json:"valid_until"`
	SubmittedAt    *time.Time            `json:"submitted_at,omitempty"`
	EvaluationRefs []string              `json:"evaluation_refs"`
}

func viewOf(request storage.Request) View {
	refs := request.EvaluationRefs
	if refs == nil {
		refs = []string{}
	}
	return View{
		ID:             request.ID,
		TargetID:       request.TargetID,
		TargetKind:     request.TargetKind,
		Message:        request.Message,
		Status:         request.Status,
		CreatedAt:      request.CreatedAt,
		ValidUntil:     request.ValidUntil,
		SubmittedAt:    request.SubmittedAt,
		EvaluationRefs: refs,
	}
}

func (s *Service) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

// expire deletes a request found past its valid_until.
func (s *Service) expire(ctx context.Context, requestID string) {
	if err := s.requests.DeleteRequest(ctx, requestID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logf("request expire delete failed request_id=%s err=%v", requestID, err)
	}
	if err := s.expiry.Remove(ctx, requestID); err != nil {
		s.logf("request expire marker delete failed request_id=%s err=%v", requestID, err)
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "request."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
