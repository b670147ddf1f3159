package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/platform/httpx"
	"github.com/louisbranch/reviewdesk/internal/platform/httpx/pagination"
	"github.com/louisbranch/reviewdesk/internal/platform/requestctx"
	"github.com/louisbranch/reviewdesk/internal/services/review/assignment"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/request"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID := strings.TrimSpace(r.Header.Get(h.adminHeader))
		if adminID == "" {
			_ = httpx.WriteJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "administrator identity is required")
			return
		}
		next(w, r.WithContext(requestctx.WithAdminID(r.Context(), adminID)))
	})
}

type createRequestBody struct {
	TargetID         string   `json:"target_id"`
	RecipientAddress string   `json:"recipient_address"`
	Message          string   `json:"message"`
	TTLDays          int      `json:"ttl_days"`
	EvaluationRefs   []string `json:"evaluation_refs"`
}

type adminRequestView struct {
	ID               string                `json:"id"`
	TargetID         string                `json:"target_id"`
	TargetKind       proposal.Kind         `json:"target_kind"`
	RecipientAddress string                `json:"recipient_address"`
	IssuerID         string                `json:"issuer_id"`
	Message          string                `json:"message"`
	Status           storage.RequestStatus `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
	ValidUntil       time.Time             `json:"valid_until"`
	SubmittedAt      *time.Time            `json:"submitted_at,omitempty"`
	EvaluationRefs   []string              `json:"evaluation_refs"`
	Active           bool                  `json:"active"`
	Link             string                `json:"link,omitempty"`
}

func adminView(req storage.Request) adminRequestView {
	refs := req.EvaluationRefs
	if refs == nil {
		refs = []string{}
	}
	return adminRequestView{
		ID:               req.ID,
		TargetID:         req.TargetID,
		TargetKind:       req.TargetKind,
		RecipientAddress: req.RecipientAddress,
		IssuerID:         req.IssuerID,
		Message:          req.Message,
		Status:           req.Status,
		CreatedAt:        req.CreatedAt,
		ValidUntil:       req.ValidUntil,
		SubmittedAt:      req.SubmittedAt,
		EvaluationRefs:   refs,
	}
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := httpx.DecodeJSON(r, maxJSONBytes, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	created, err := h.requests.Create(r.Context(), request.CreateInput{
		TargetID:         body.TargetID,
		RecipientAddress: body.RecipientAddress,
		IssuerID:         requestctx.AdminIDFromContext(r.Context()),
		Message:          body.Message,
		TTLDays:          body.TTLDays,
		EvaluationRefs:   body.EvaluationRefs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := adminView(created.Request)
	view.Link = created.Link
	_ = httpx.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	status, err := h.requests.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := adminView(status.Request)
	view.Active = status.Active
	_ = httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.requests.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Printf("request revoked request_id=%s admin_id=%s", r.PathValue("id"), requestctx.AdminIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

type assignBody struct {
	ReviewerID string `json:"reviewer_id"`
	ProposalID string `json:"proposal_id"`
	Kind       string `json:"kind"`
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := httpx.DecodeJSON(r, maxJSONBytes, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	created, err := h.assignments.Assign(r.Context(), body.ReviewerID, body.ProposalID, proposal.Kind(body.Kind))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, assignmentViewOf(created))
}

var (
	assignmentPageSize = pagination.PageSizeConfig{Default: 50, Max: 200}
	assignmentOrder    = pagination.OrderByConfig{
		Default: assignment.OrderByCreatedAt,
		Allowed: []string{assignment.OrderByCreatedAt, assignment.OrderByReviewerID},
	}
)

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	pageSize, orderBy, err := pagination.FromQuery(r.URL.Query(), assignmentPageSize, assignmentOrder)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	list, err := h.assignments.ListAssignments(r.Context(), r.PathValue("id"), orderBy, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]assignmentView, 0, len(list))
	for _, a := range list {
		views = append(views, assignmentViewOf(a))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"assignments": views})
}

type invoiceLinkView struct {
	ReviewerID string    `json:"reviewer_id"`
	Link       string    `json:"link"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handler) handleInvoiceLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.assignments.IssueInvoiceLink(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, invoiceLinkView{ReviewerID: link.ReviewerID, Link: link.Link, ExpiresAt: link.ExpiresAt})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	ref, ok, err := h.storeUpload(r, "file")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "file field is required")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

func (h *Handler) storeUpload(r *http.Request, field string) (string, bool, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return "", false, nil
	}
	if err != nil {
		return "", false, badRequest(err)
	}
	defer file.Close()

	ref, err := h.files.Put(r.Context(), header.Filename, partContentType(header), file)
	if err != nil {
		return "", false, err
	}
	return ref, true, nil
}
