// Package httpapi exposes the review workflow over JSON HTTP. Administrator
// routes trust an identity header set by the fronting proxy; public routes
// authenticate only with the capability token in the link.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/platform/httpx"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
	"github.com/louisbranch/reviewdesk/internal/services/review/assignment"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/request"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// DefaultAdminHeader carries the administrator id on admin routes.
const DefaultAdminHeader = "X-Admin-ID"

const (
	maxJSONBytes      = 1 << 20
	maxMultipartBytes = 64 << 20
	multipartMemory   = 8 << 20
)

// RequestService is the update-request surface used by the handlers.
type RequestService interface {
	Create(ctx context.Context, in request.CreateInput) (request.Created, error)
	VerifyAndEnter(ctx context.Context, token string) (request.Entry, error)
	SubmitWithToken(ctx context.Context, token string, in request.SubmitInput) (storage.Request, error)
	Get(ctx context.Context, requestID string) (request.Status, error)
	Delete(ctx context.Context, requestID string) error
}

// AssignmentService is the reviewer surface used by the handlers.
type AssignmentService interface {
	Assign(ctx context.Context, reviewerID, proposalID string, kind proposal.Kind) (storage.ReviewerAssignment, error)
	VerifyReviewToken(ctx context.Context, token string) (assignment.ReviewEntry, error)
	SubmitReview(ctx context.Context, token string, in assignment.ReviewInput) (storage.ReviewerAssignment, error)
	ListAssignments(ctx context.Context, proposalID, orderBy string, limit int) ([]storage.ReviewerAssignment, error)
	IssueInvoiceLink(ctx context.Context, reviewerID string) (assignment.InvoiceLink, error)
	VerifyInvoiceToken(ctx context.Context, token string) (storage.Reviewer, error)
}

// FileStore accepts uploaded artifacts.
type FileStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Config wires a Handler.
type Config struct {
	Requests    RequestService
	Assignments AssignmentService
	Files       FileStore
	AdminHeader string
	Logger      *log.Logger
	Timeout     time.Duration
}

// Handler serves the review HTTP API.
type Handler struct {
	requests    RequestService
	assignments AssignmentService
	files       FileStore
	adminHeader string
	logger      *log.Logger
}

// New validates cfg and returns the API wrapped in the standard middleware.
func New(cfg Config) (http.Handler, error) {
	if cfg.Requests == nil || cfg.Assignments == nil || cfg.Files == nil {
		return nil, errors.New("request service, assignment service and file store are required")
	}
	h := &Handler{
		requests:    cfg.Requests,
		assignments: cfg.Assignments,
		files:       cfg.Files,
		adminHeader: strings.TrimSpace(cfg.AdminHeader),
		logger:      cfg.Logger,
	}
	if h.adminHeader == "" {
		h.adminHeader = DefaultAdminHeader
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.Request
	}
	return httpx.Chain(h.routes(),
		httpx.RequestID(),
		httpx.RequestLogger(h.logger),
		httpx.RecoverPanic(),
		httpx.Timeout(timeout),
	), nil
}

func (h *Handler) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /admin/requests", h.requireAdmin(h.handleCreateRequest))
	mux.Handle("GET /admin/requests/{id}", h.requireAdmin(h.handleGetRequest))
	mux.Handle("DELETE /admin/requests/{id}", h.requireAdmin(h.handleDeleteRequest))
	mux.Handle("POST /admin/assignments", h.requireAdmin(h.handleAssign))
	mux.Handle("GET /admin/proposals/{id}/assignments", h.requireAdmin(h.handleListAssignments))
	mux.Handle("POST /admin/reviewers/{id}/invoice-link", h.requireAdmin(h.handleInvoiceLink))
	mux.Handle("POST /admin/files", h.requireAdmin(h.handleUpload))

	mux.HandleFunc("GET "+request.EnterPath, h.handleEnterRequest)
	mux.HandleFunc("POST /requests/submit", h.handleSubmitRequest)
	mux.HandleFunc("GET "+assignment.ReviewPath, h.handleEnterReview)
	mux.HandleFunc("POST /reviews/submit", h.handleSubmitReview)
	mux.HandleFunc("GET "+assignment.InvoicePath, h.handleEnterInvoice)
	return mux
}

// tokenFrom reads the capability token from a bearer header or the token
// query parameter.
func tokenFrom(r *http.Request) string {
	if value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
