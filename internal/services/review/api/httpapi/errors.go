package httpapi

import (
	"errors"
	"net/http"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/platform/errors/i18n"
	"github.com/louisbranch/reviewdesk/internal/platform/httpx"
	"github.com/louisbranch/reviewdesk/internal/services/review/filestore"
)

const codeInvalidArgument = "INVALID_ARGUMENT"

// errBadRequest marks request decoding failures that carry no domain code.
type errBadRequest struct{ cause error }

func (e errBadRequest) Error() string { return e.cause.Error() }
func (e errBadRequest) Unwrap() error { return e.cause }

func badRequest(err error) error { return errBadRequest{cause: err} }

func invalidField(field string) error {
	return apperrors.WithMetadata(apperrors.CodeProposalInvalidField, "unknown artifact slot", map[string]string{"Field": field})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, err error) {
	_ = httpx.WriteJSONError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
}

// writeError renders err as the JSON error envelope. Domain codes pick the
// status and the localized message; anything else is an opaque 500 whose
// cause only reaches the log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var bad errBadRequest
	if errors.As(err, &bad) {
		h.writeBadRequest(w, bad.cause)
		return
	}
	switch {
	case errors.Is(err, filestore.ErrTooLarge):
		_ = httpx.WriteJSONError(w, http.StatusRequestEntityTooLarge, codeInvalidArgument, "file is too large")
		return
	case errors.Is(err, filestore.ErrInvalidRef):
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, codeInvalidArgument, "invalid file reference")
		return
	}

	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	message := i18n.ForAcceptLanguage(r.Header.Get("Accept-Language")).Format(string(code), apperrors.MetadataOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Printf("request failed method=%s path=%s code=%s request_id=%s err=%v",
			r.Method, r.URL.Path, code, r.Header.Get(httpx.RequestIDHeader), err)
	}
	_ = httpx.WriteJSON(w, status, map[string]httpx.ErrorBody{"error": {
		Code:      string(code),
		Message:   message,
		Retryable: code.Retryable(),
	}})
}
