package request

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/filestore"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/saga"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

const (
	day = 24 * time.Hour

	// EnterPath is the public path that capability links point at.
	EnterPath = "/requests/enter"

	stepPersistRequest = "persist_request"
	stepNotifyOwner    = "notify_owner"
)

// CreateInput describes a new update request.
type CreateInput struct {
	TargetID         string
	RecipientAddress string
	IssuerID         string
	Message          string
	TTLDays          int
	EvaluationRefs   []string
}

// Created is a persisted request with the token that was emailed for it.
type Created struct {
	Request storage.Request
	Token   string
	Link    string
}

// Create persists a request in sent, mints its update-request token and
// emails the link to the recipient. When the email cannot be delivered the
// request is removed again and CodeNotificationFailed is returned.
func (s *Service) Create(ctx context.Context, in CreateInput) (created Created, err error) {
	ctx, span := startSpan(ctx, "create")
	defer func() { endSpan(span, err) }()

	in.TargetID = strings.TrimSpace(in.TargetID)
	in.RecipientAddress = strings.TrimSpace(in.RecipientAddress)
	in.IssuerID = strings.TrimSpace(in.IssuerID)
	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.TargetID == "":
		return Created{}, apperrors.New(apperrors.CodeRequestEmptyTargetID, "target id is required")
	case in.RecipientAddress == "":
		return Created{}, apperrors.New(apperrors.CodeRequestEmptyRecipient, "recipient address is required")
	case in.IssuerID == "":
		return Created{}, apperrors.New(apperrors.CodeRequestEmptyIssuer, "issuer id is required")
	}
	maxTTL := s.tokens.MaxTTL(capability.PurposeUpdateRequest)
	ttl := time.Duration(in.TTLDays) * day
	if in.TTLDays <= 0 || ttl > maxTTL {
		return Created{}, apperrors.WithMetadata(
			apperrors.CodeRequestInvalidTTL,
			fmt.Sprintf("ttl of %d days is out of range", in.TTLDays),
			map[string]string{"MaxDays": strconv.Itoa(int(maxTTL / day))},
		)
	}

	target, err := s.proposals.GetProposal(ctx, in.TargetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Created{}, apperrors.New(apperrors.CodeTargetNotFound, "target proposal not found")
		}
		return Created{}, fmt.Errorf("get target proposal: %w", err)
	}
	refs := cleanRefs(in.EvaluationRefs)
	attachments, err := s.loadAttachments(ctx, refs)
	if err != nil {
		return Created{}, err
	}

	requestID, err := s.newID()
	if err != nil {
		return Created{}, fmt.Errorf("generate request id: %w", err)
	}
	now := s.now().UTC().Truncate(time.Second)
	request := storage.Request{
		ID:               requestID,
		TargetID:         target.ID,
		TargetKind:       target.Kind,
		RecipientAddress: in.RecipientAddress,
		IssuerID:         in.IssuerID,
		Message:          in.Message,
		CreatedAt:        now,
		ValidUntil:       now.Add(ttl),
		Status:           storage.RequestSent,
		EvaluationRefs:   refs,
	}
	token, _, err := s.tokens.IssueAt(capability.PurposeUpdateRequest, capability.Subject{RequestID: requestID}, now, ttl)
	if err != nil {
		return Created{}, fmt.Errorf("issue update request token: %w", err)
	}
	link := s.link(EnterPath, token)
	msg, err := s.renderer.UpdateRequest(notify.UpdateRequest{
		To:            request.RecipientAddress,
		ProposalTitle: target.Title,
		Message:       request.Message,
		Until:         request.ValidUntil,
		Link:          link,
		Attachments:   attachments,
	})
	if err != nil {
		return Created{}, fmt.Errorf("render update request email: %w", err)
	}

	err = saga.Run(ctx, saga.Options{CompensationTimeout: timeouts.Compensation, Logf: s.logf},
		saga.Step{
			Name:   stepPersistRequest,
			Action: func(ctx context.Context) error { return s.requests.CreateRequest(ctx, request) },
			Compensate: func(ctx context.Context) error {
				err := s.requests.DeleteRequest(ctx, request.ID)
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		saga.Step{
			Name: stepNotifyOwner,
			Action: func(ctx context.Context) error {
				return notify.SendWithin(ctx, s.notifier, msg, s.notifyTimeout)
			},
		},
	)
	if err != nil {
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) && stepErr.Step == stepNotifyOwner {
			s.logf("request notify failed request_id=%s target_id=%s err=%v", request.ID, request.TargetID, err)
			return Created{}, apperrors.Wrap(apperrors.CodeNotificationFailed, "send update request email", err)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return Created{}, apperrors.New(apperrors.CodeTargetNotFound, "target proposal not found")
		}
		return Created{}, fmt.Errorf("create update request: %w", err)
	}

	s.logf("request created request_id=%s target_id=%s issuer_id=%s valid_until=%s",
		request.ID, request.TargetID, request.IssuerID, request.ValidUntil.Format(time.RFC3339))
	return Created{Request: request, Token: token, Link: link}, nil
}

func (s *Service) loadAttachments(ctx context.Context, refs []string) ([]notify.Attachment, error) {
	attachments := make([]notify.Attachment, 0, len(refs))
	for _, ref := range refs {
		obj, err := s.files.Open(ctx, ref)
		if err != nil {
			if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrInvalidRef) {
				return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "evaluation file not found", map[string]string{"Ref": ref})
			}
			return nil, fmt.Errorf("open evaluation file %s: %w", ref, err)
		}
		attachments = append(attachments, notify.Attachment{
			Name:        obj.Name,
			ContentType: obj.ContentType,
			Data:        obj.Data,
		})
	}
	return attachments, nil
}

func cleanRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
