package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
)

// maxMergeAttempts bounds retries when another writer bumps the proposal
// revision between read and write.
const maxMergeAttempts = 3

// Upload is one artifact file sent with a submission.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// SubmitInput carries the owner's changes. Updates may hold any keys; only
// updatable proposal fields are applied. Uploads replace the artifact in
// their slot and are written to the FileStore only once the request is
// known to be live.
type SubmitInput struct {
	Updates map[string]any
	Uploads map[proposal.Slot]Upload
}

// SubmitWithToken verifies an update-request token and submits in for the
// request it names.
func (s *Service) SubmitWithToken(ctx context.Context, token string, in SubmitInput) (storage.Request, error) {
	claims, err := s.verifyToken(ctx, token)
	if err != nil {
		return storage.Request{}, err
	}
	return s.Submit(ctx, claims.Subject.RequestID, in)
}

// Submit merges the owner's changes into the target proposal and marks the
// request updated in one conditional write. Submissions for one request id
// run one at a time. Uploads that do not end up on the proposal are removed
// again, and displaced artifacts are deleted only after the write commits.
func (s *Service) Submit(ctx context.Context, requestID string, in SubmitInput) (request storage.Request, err error) {
	ctx, span := startSpan(ctx, "submit")
	defer func() { endSpan(span, err) }()

	for slot, upload := range in.Uploads {
		if !slices.Contains(proposal.Slots, slot) || upload.Body == nil {
			return storage.Request{}, apperrors.WithMetadata(apperrors.CodeProposalInvalidField, "artifact upload is invalid", map[string]string{"Field": string(slot)})
		}
	}

	requestID = strings.TrimSpace(requestID)
	unlock := s.submitLocks.Lock(requestID)
	defer unlock()

	request, err = s.loadLive(ctx, requestID)
	if err != nil {
		return storage.Request{}, err
	}
	if request.Status == storage.RequestUpdated {
		return storage.Request{}, apperrors.New(apperrors.CodeRequestSubmitted, "update request already submitted")
	}

	refs, err := s.storeUploads(ctx, requestID, in.Uploads)
	if err != nil {
		return storage.Request{}, err
	}
	committed := false
	defer func() {
		if !committed {
			s.deleteFiles(context.WithoutCancel(ctx), requestID, slices.Collect(maps.Values(refs)))
		}
	}()

	submittedAt := s.now().UTC()
	stored, applied, replaced, err := s.commit(ctx, request, in.Updates, refs, submittedAt)
	if err != nil {
		return storage.Request{}, err
	}
	committed = true
	s.deleteFiles(ctx, requestID, replaced)

	request.Status = storage.RequestUpdated
	request.SubmittedAt = &submittedAt
	s.logf("request submitted request_id=%s target_id=%s fields=%s files=%d revision=%d",
		request.ID, request.TargetID, strings.Join(applied, ","), len(refs), stored.Revision)
	return request, nil
}

// storeUploads writes every upload and returns its ref per slot. A failed
// write removes the uploads already stored.
func (s *Service) storeUploads(ctx context.Context, requestID string, uploads map[proposal.Slot]Upload) (map[proposal.Slot]string, error) {
	refs := make(map[proposal.Slot]string, len(uploads))
	for _, slot := range proposal.Slots {
		upload, ok := uploads[slot]
		if !ok {
			continue
		}
		ref, err := s.files.Put(ctx, upload.Name, upload.ContentType, upload.Body)
		if err != nil {
			s.deleteFiles(context.WithoutCancel(ctx), requestID, slices.Collect(maps.Values(refs)))
			return nil, fmt.Errorf("store %s upload: %w", slot, err)
		}
		refs[slot] = ref
	}
	return refs, nil
}

func (s *Service) commit(ctx context.Context, request storage.Request, updates map[string]any, refs map[proposal.Slot]string, submittedAt time.Time) (proposal.Proposal, []string, []string, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.proposals.GetProposal(ctx, request.TargetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return proposal.Proposal{}, nil, nil, apperrors.New(apperrors.CodeTargetNotFound, "target proposal not found")
			}
			return proposal.Proposal{}, nil, nil, fmt.Errorf("get target proposal: %w", err)
		}
		next, applied, err := proposal.ApplyUpdates(current, updates)
		if err != nil {
			return proposal.Proposal{}, nil, nil, err
		}
		next, replaced, err := proposal.ApplyArtifacts(next, refs)
		if err != nil {
			return proposal.Proposal{}, nil, nil, err
		}
		next.UpdatedAt = submittedAt

		stored, err := s.submissions.CommitSubmission(ctx, request.ID, submittedAt, next)
		switch {
		case err == nil:
			return stored, applied, replaced, nil
		case errors.Is(err, storage.ErrConflict) && attempt < maxMergeAttempts:
			continue
		case errors.Is(err, storage.ErrConflict):
			return proposal.Proposal{}, nil, nil, apperrors.Wrap(apperrors.CodeConflict, "proposal changed during submission", err)
		case errors.Is(err, storage.ErrNotFound):
			return proposal.Proposal{}, nil, nil, s.unsubmittable(ctx, request.ID)
		default:
			return proposal.Proposal{}, nil, nil, fmt.Errorf("commit submission: %w", err)
		}
	}
}

func (s *Service) deleteFiles(ctx context.Context, requestID string, refs []string) {
	for _, ref := range refs {
		if err := s.files.Delete(ctx, ref); err != nil {
			s.logf("request file delete failed request_id=%s ref=%s err=%v", requestID, ref, err)
		}
	}
}

// unsubmittable explains why the final status write matched no row.
func (s *Service) unsubmittable(ctx context.Context, requestID string) error {
	request, err := s.loadLive(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status == storage.RequestUpdated {
		return apperrors.New(apperrors.CodeRequestSubmitted, "update request already submitted")
	}
	return apperrors.New(apperrors.CodeConflict, "update request changed during submission")
}
