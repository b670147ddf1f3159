package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// Status is a request as seen by administrators.
type Status struct {
	Request storage.Request
	// Active reports whether the request link was opened within the
	// viewing window. It is informational only.
	Active bool
}

// Get returns a live request and its viewing state. An expired request is
// deleted and reported as CodeRequestExpired.
func (s *Service) Get(ctx context.Context, requestID string) (Status, error) {
	request, err := s.loadLive(ctx, requestID)
	if err != nil {
		return Status{}, err
	}
	active, err := s.expiry.IsActive(ctx, request.ID)
	if err != nil {
		s.logf("request marker check failed request_id=%s err=%v", request.ID, err)
		active = false
	}
	return Status{Request: request, Active: active}, nil
}

// Delete removes a request and its viewing marker, revoking its link.
func (s *Service) Delete(ctx context.Context, requestID string) (err error) {
	ctx, span := startSpan(ctx, "delete")
	defer func() { endSpan(span, err) }()

	requestID = strings.TrimSpace(requestID)
	if err := s.requests.DeleteRequest(ctx, requestID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "update request not found")
		}
		return fmt.Errorf("delete update request: %w", err)
	}
	if err := s.expiry.Remove(ctx, requestID); err != nil {
		s.logf("request marker delete failed request_id=%s err=%v", requestID, err)
	}
	s.logf("request deleted request_id=%s", requestID)
	return nil
}
