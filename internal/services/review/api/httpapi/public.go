package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/platform/httpx"
	"github.com/louisbranch/reviewdesk/internal/services/review/assignment"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/request"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// updatesField is the multipart field that carries the JSON field updates
// next to uploaded files.
const updatesField = "updates"

func (h *Handler) handleEnterRequest(w http.ResponseWriter, r *http.Request) {
	entry, err := h.requests.VerifyAndEnter(r.Context(), tokenFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, entry)
}

type submitRequestBody struct {
	Updates map[string]any   `json:"updates"`
	Files   map[string]string `json:"files"`
}

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var (
		in  request.SubmitInput
		err error
	)
	if isMultipart(r) {
		var release func()
		in, release, err = multipartSubmission(w, r)
		if release != nil {
			defer release()
		}
	} else {
		in, err = jsonSubmission(r)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.requests.SubmitWithToken(r.Context(), tokenFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"request": adminView(updated).public()})
}

// jsonSubmission decodes field updates. Artifacts cannot be attached by ref:
// a link holder may only replace an artifact with a file they upload.
func jsonSubmission(r *http.Request) (request.SubmitInput, error) {
	var body submitRequestBody
	if err := httpx.DecodeJSON(r, maxJSONBytes, &body); err != nil {
		return request.SubmitInput{}, badRequest(err)
	}
	if len(body.Files) > 0 {
		return request.SubmitInput{}, badRequest(errors.New("artifacts must be uploaded as multipart/form-data"))
	}
	return request.SubmitInput{Updates: body.Updates}, nil
}

// multipartSubmission collects the updates field and one upload per slot
// part. Nothing is stored here; the service writes uploads once the token
// and request check out. release closes the parts and removes spooled
// temporary files.
func multipartSubmission(w http.ResponseWriter, r *http.Request) (request.SubmitInput, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return request.SubmitInput{}, nil, badRequest(err)
	}
	var opened []io.Closer
	release := func() {
		for _, file := range opened {
			_ = file.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}

	for name := range r.MultipartForm.File {
		if _, err := parseSlot(name); err != nil {
			return request.SubmitInput{}, release, err
		}
	}
	var in request.SubmitInput
	if raw := strings.TrimSpace(r.FormValue(updatesField)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Updates); err != nil {
			return request.SubmitInput{}, release, badRequest(err)
		}
	}
	for _, slot := range proposal.Slots {
		file, header, err := r.FormFile(string(slot))
		if err == http.ErrMissingFile {
			continue
		}
		if err != nil {
			return request.SubmitInput{}, release, badRequest(err)
		}
		opened = append(opened, file)
		if in.Uploads == nil {
			in.Uploads = map[proposal.Slot]request.Upload{}
		}
		in.Uploads[slot] = request.Upload{
			Name:        header.Filename,
			ContentType: partContentType(header),
			Body:        file,
		}
	}
	return in, release, nil
}

func partContentType(header *multipart.FileHeader) string {
	if contentType := header.Header.Get("Content-Type"); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func parseSlot(name string) (proposal.Slot, error) {
	for _, slot := range proposal.Slots {
		if string(slot) == name {
			return slot, nil
		}
	}
	return "", invalidField(name)
}

func (v adminRequestView) public() request.View {
	return request.View{
		ID:             v.ID,
		TargetID:       v.TargetID,
		TargetKind:     v.TargetKind,
		Message:        v.Message,
		Status:         v.Status,
		CreatedAt:      v.CreatedAt,
		ValidUntil:     v.ValidUntil,
		SubmittedAt:    v.SubmittedAt,
		EvaluationRefs: v.EvaluationRefs,
	}
}

type assignmentView struct {
	ReviewerID         string                   `json:"reviewer_id"`
	ProposalID         string                   `json:"proposal_id"`
	ProposalKind       proposal.Kind            `json:"proposal_kind"`
	Status             storage.AssignmentStatus `json:"status"`
	Mark               *float64                 `json:"mark,omitempty"`
	MarkSheetRef       string                   `json:"mark_sheet_ref,omitempty"`
	EvaluationSheetRef string                   `json:"evaluation_sheet_ref,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	CompletedAt        *time.Time               `json:"completed_at,omitempty"`
}

func assignmentViewOf(a storage.ReviewerAssignment) assignmentView {
	return assignmentView{
		ReviewerID:         a.ReviewerID,
		ProposalID:         a.ProposalID,
		ProposalKind:       a.ProposalKind,
		Status:             a.Status,
		Mark:               a.Mark,
		MarkSheetRef:       a.MarkSheetRef,
		EvaluationSheetRef: a.EvaluationSheetRef,
		CreatedAt:          a.CreatedAt,
		CompletedAt:        a.CompletedAt,
	}
}

type reviewEntryView struct {
	Proposal   proposal.View  `json:"proposal"`
	Assignment assignmentView `json:"assignment"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ReadOnly   bool           `json:"read_only"`
}

func (h *Handler) handleEnterReview(w http.ResponseWriter, r *http.Request) {
	entry, err := h.assignments.VerifyReviewToken(r.Context(), tokenFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, reviewEntryView{
		Proposal:   entry.Proposal,
		Assignment: assignmentViewOf(entry.Assignment),
		ExpiresAt:  entry.ExpiresAt,
		ReadOnly:   entry.ReadOnly,
	})
}

type submitReviewBody struct {
	Mark               *float64 `json:"mark"`
	MarkSheetRef       string   `json:"mark_sheet_ref"`
	EvaluationSheetRef string   `json:"evaluation_sheet_ref"`
}

func (h *Handler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var body submitReviewBody
	if err := httpx.DecodeJSON(r, maxJSONBytes, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	completed, err := h.assignments.SubmitReview(r.Context(), tokenFrom(r), assignment.ReviewInput{
		Mark:               body.Mark,
		MarkSheetRef:       body.MarkSheetRef,
		EvaluationSheetRef: body.EvaluationSheetRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, assignmentViewOf(completed))
}

type invoiceEntryView struct {
	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

func (h *Handler) handleEnterInvoice(w http.ResponseWriter, r *http.Request) {
	reviewer, err := h.assignments.VerifyInvoiceToken(r.Context(), tokenFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, invoiceEntryView{ReviewerID: reviewer.ID, Name: reviewer.Name, Email: reviewer.Email})
}
