// Package storage defines persistence contracts for review workflow state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrConflict indicates a conditional write lost to a concurrent change.
	ErrConflict = errors.New("record changed concurrently")
)

// RequestStatus is the lifecycle state of an update request.
type RequestStatus string

const (
	RequestSent    RequestStatus = "sent"
	RequestViewed  RequestStatus = "viewed"
	RequestUpdated RequestStatus = "updated"
)

// Request asks a proposal owner to revise their proposal through a
// capability link.
type Request struct {
	ID               string
	TargetID         string
	TargetKind       proposal.Kind
	RecipientAddress string
	IssuerID         string
	Message          string
	CreatedAt        time.Time
	ValidUntil       time.Time
	Status           RequestStatus
	SubmittedAt      *time.Time
	EvaluationRefs   []string
}

// IsLive reports whether the request may still be used at now. It is the
// only liveness rule for requests; expiry markers never override it.
func (r Request) IsLive(now time.Time) bool {
	return !now.After(r.ValidUntil)
}

// RequestStore persists update requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, request Request) error
	GetRequest(ctx context.Context, requestID string) (Request, error)
	// MarkRequestViewed moves a request from sent to viewed. It reports
	// false without error when the request was not in sent.
	MarkRequestViewed(ctx context.Context, requestID string) (bool, error)
	// MarkRequestUpdated stamps submittedAt and moves the request to
	// updated, only while valid_until has not passed submittedAt and the
	// request was not already updated. It returns ErrNotFound when no row
	// matched.
	MarkRequestUpdated(ctx context.Context, requestID string, submittedAt time.Time) error
	// DeleteRequest removes the request and its expiry marker.
	DeleteRequest(ctx context.Context, requestID string) error
}

// ExpiryMarker is the advisory active-viewing marker for one request.
type ExpiryMarker struct {
	RequestID string
	ExpiresAt time.Time
}

// ExpiryStore persists expiry markers.
type ExpiryStore interface {
	PutMarker(ctx context.Context, marker ExpiryMarker) error
	GetMarker(ctx context.Context, requestID string) (ExpiryMarker, error)
	DeleteMarker(ctx context.Context, requestID string) error
	// DeleteExpiredMarkers removes markers with expires_at <= now and
	// returns how many were removed.
	DeleteExpiredMarkers(ctx context.Context, now time.Time) (int, error)
}

// AssignmentStatus is the state of a reviewer assignment.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentCompleted AssignmentStatus = "completed"
)

// ReviewerAssignment links one reviewer to one proposal.
type ReviewerAssignment struct {
	ReviewerID         string
	ProposalID         string
	ProposalKind       proposal.Kind
	Status             AssignmentStatus
	Mark               *float64
	MarkSheetRef       string
	EvaluationSheetRef string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// AssignmentStore persists reviewer assignments.
type AssignmentStore interface {
	// CreateAssignment returns ErrAlreadyExists when the pair is taken.
	CreateAssignment(ctx context.Context, assignment ReviewerAssignment) error
	GetAssignment(ctx context.Context, reviewerID, proposalID string) (ReviewerAssignment, error)
	ListProposalAssignments(ctx context.Context, proposalID string) ([]ReviewerAssignment, error)
	DeleteAssignment(ctx context.Context, reviewerID, proposalID string) error
	// CompleteAssignment records the review outcome on a pending
	// assignment. It returns ErrConflict when the assignment is not pending.
	CompleteAssignment(ctx context.Context, assignment ReviewerAssignment) error
}

// ProposalStore persists proposals.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p proposal.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error)
	// UpdateProposal writes p when the stored revision equals p.Revision and
	// returns the stored value with its incremented revision. A stale
	// revision fails with ErrConflict.
	UpdateProposal(ctx context.Context, p proposal.Proposal) (proposal.Proposal, error)
}

// SubmissionStore commits an owner submission as one unit.
type SubmissionStore interface {
	// CommitSubmission writes next under its revision check and moves the
	// request to updated in a single transaction. A stale revision fails
	// with ErrConflict. A request that is gone, past valid_until at
	// submittedAt or already updated fails with ErrNotFound. On either
	// failure nothing is written.
	CommitSubmission(ctx context.Context, requestID string, submittedAt time.Time, next proposal.Proposal) (proposal.Proposal, error)
}

// Reviewer is an external reviewer without a login.
type Reviewer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// ReviewerStore persists reviewers.
type ReviewerStore interface {
	CreateReviewer(ctx context.Context, reviewer Reviewer) error
	GetReviewer(ctx context.Context, reviewerID string) (Reviewer, error)
}
