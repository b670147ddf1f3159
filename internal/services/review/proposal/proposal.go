// Package proposal models the proposal documents that update requests and
// reviewer assignments act on.
package proposal

import (
	"slices"
	"strings"
	"time"
)

// Kind distinguishes student and teacher proposals.
type Kind string

const (
	KindStudent Kind = "student"
	KindTeacher Kind = "teacher"
)

// ParseKind normalizes and validates a proposal kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindStudent:
		return KindStudent, true
	case KindTeacher:
		return KindTeacher, true
	default:
		return "", false
	}
}

// Status is the administrative state of a proposal.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
)

// Slot names an artifact position on a proposal.
type Slot string

const (
	SlotDocument   Slot = "document"
	SlotSupporting Slot = "supporting"
)

// Slots lists every artifact slot.
var Slots = []Slot{SlotDocument, SlotSupporting}

// Proposal is one submitted proposal. Values are treated as immutable:
// mutators return an updated copy.
type Proposal struct {
	ID            string
	Kind          Kind
	Title         string
	Abstract      string
	Keywords      []string
	OwnerName     string
	OwnerEmail    string
	Department    string
	UpdateNotes   string
	DocumentRef   string
	SupportingRef string
	Status        Status

	// Administrative fields. Never shown to external parties.
	ReviewerIDs []string
	AdminNotes  string
	Decision    string

	// Revision increments on every stored write and guards conditional
	// updates.
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of p.
func (p Proposal) Clone() Proposal {
	p.Keywords = slices.Clone(p.Keywords)
	p.ReviewerIDs = slices.Clone(p.ReviewerIDs)
	return p
}

// HasReviewer reports whether reviewerID is on the reviewer list.
func (p Proposal) HasReviewer(reviewerID string) bool {
	return slices.Contains(p.ReviewerIDs, strings.TrimSpace(reviewerID))
}

// WithReviewer returns p with reviewerID appended and the status set to
// under review. The reviewer is never listed twice; ok is false when it was
// already present.
func (p Proposal) WithReviewer(reviewerID string) (next Proposal, ok bool) {
	reviewerID = strings.TrimSpace(reviewerID)
	next = p.Clone()
	if reviewerID == "" || next.HasReviewer(reviewerID) {
		return next, false
	}
	next.ReviewerIDs = append(next.ReviewerIDs, reviewerID)
	next.Status = StatusUnderReview
	return next, true
}

// ArtifactRef returns the file reference stored in slot.
func (p Proposal) ArtifactRef(slot Slot) string {
	switch slot {
	case SlotDocument:
		return p.DocumentRef
	case SlotSupporting:
		return p.SupportingRef
	default:
		return ""
	}
}

func (p *Proposal) setArtifactRef(slot Slot, ref string) bool {
	switch slot {
	case SlotDocument:
		p.DocumentRef = ref
	case SlotSupporting:
		p.SupportingRef = ref
	default:
		return false
	}
	return true
}

// View is the proposal as shown to external parties holding a capability
// link. Administrative fields are omitted.
type View struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Abstract      string    `json:"abstract"`
	Keywords      []string  `json:"keywords"`
	OwnerName     string    `json:"owner_name"`
	Department    string    `json:"department,omitempty"`
	UpdateNotes   string    `json:"update_notes,omitempty"`
	DocumentRef   string    `json:"document_ref,omitempty"`
	SupportingRef string    `json:"supporting_ref,omitempty"`
	Status        Status    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PublicView strips administrative fields from p.
func (p Proposal) PublicView() View {
	keywords := slices.Clone(p.Keywords)
	if keywords == nil {
		keywords = []string{}
	}
	return View{
		ID:            p.ID,
		Kind:          p.Kind,
		Title:         p.Title,
		Abstract:      p.Abstract,
		Keywords:      keywords,
		OwnerName:     p.OwnerName,
		Department:    p.Department,
		UpdateNotes:   p.UpdateNotes,
		DocumentRef:   p.DocumentRef,
		SupportingRef: p.SupportingRef,
		Status:        p.Status,
		UpdatedAt:     p.UpdatedAt,
	}
}
