package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// Entry is what the proposal owner sees after opening a request link.
type Entry struct {
	Request  View          `json:"request"`
	Proposal proposal.View `json:"proposal"`
	// ReadOnly is set once the owner has submitted; the proposal stays
	// viewable until the request expires.
	ReadOnly bool `json:"read_only"`
	// ActiveUntil is when the viewing marker lapses. Zero when the marker
	// could not be written.
	ActiveUntil time.Time `json:"active_until,omitzero"`
}

// VerifyAndEnter resolves an update-request token to its live request,
// moves it from sent to viewed and refreshes its viewing marker. Entering a
// request that was already submitted succeeds read-only. An expired request
// is deleted and reported as CodeRequestExpired every time its link is used.
func (s *Service) VerifyAndEnter(ctx context.Context, token string) (entry Entry, err error) {
	ctx, span := startSpan(ctx, "verify_and_enter")
	defer func() { endSpan(span, err) }()

	claims, err := s.verifyToken(ctx, token)
	if err != nil {
		return Entry{}, err
	}
	request, err := s.loadLive(ctx, claims.Subject.RequestID)
	if err != nil {
		return Entry{}, err
	}
	if request.Status == storage.RequestSent {
		moved, err := s.requests.MarkRequestViewed(ctx, request.ID)
		if err != nil {
			return Entry{}, fmt.Errorf("mark request viewed: %w", err)
		}
		if moved {
			request.Status = storage.RequestViewed
		} else if request, err = s.loadLive(ctx, request.ID); err != nil {
			return Entry{}, err
		}
	}

	var activeUntil time.Time
	if marker, err := s.expiry.Enqueue(ctx, request.ID, request.ValidUntil); err != nil {
		s.logf("request marker refresh failed request_id=%s err=%v", request.ID, err)
	} else {
		activeUntil = marker.ExpiresAt
	}

	target, err := s.proposals.GetProposal(ctx, request.TargetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Entry{}, apperrors.New(apperrors.CodeNotFound, "target proposal not found")
		}
		return Entry{}, fmt.Errorf("get target proposal: %w", err)
	}
	return Entry{
		Request:     viewOf(request),
		Proposal:    target.PublicView(),
		ReadOnly:    request.Status == storage.RequestUpdated,
		ActiveUntil: activeUntil,
	}, nil
}

// verifyToken checks an update-request token. An expired but authentic token
// deletes the request it names.
func (s *Service) verifyToken(ctx context.Context, token string) (capability.Claims, error) {
	claims, err := s.tokens.Verify(token, capability.PurposeUpdateRequest)
	if err == nil {
		return claims, nil
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeTokenExpired:
		if requestID := strings.TrimSpace(claims.Subject.RequestID); requestID != "" {
			s.expire(ctx, requestID)
		}
		return capability.Claims{}, apperrors.Wrap(apperrors.CodeRequestExpired, "update request link expired", err)
	case apperrors.CodeTokenWrongPurpose:
		s.logf("request token presented with wrong purpose err=%v", err)
	}
	return capability.Claims{}, err
}

// loadLive returns the request when it exists and has not expired. An
// expired request is deleted before CodeRequestExpired is returned.
func (s *Service) loadLive(ctx context.Context, requestID string) (storage.Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return storage.Request{}, apperrors.New(apperrors.CodeNotFound, "update request not found")
	}
	request, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Request{}, apperrors.New(apperrors.CodeNotFound, "update request not found")
		}
		return storage.Request{}, fmt.Errorf("get update request: %w", err)
	}
	if !request.IsLive(s.now().UTC()) {
		s.expire(ctx, requestID)
		return storage.Request{}, apperrors.New(apperrors.CodeRequestExpired, "update request expired")
	}
	return request, nil
}
