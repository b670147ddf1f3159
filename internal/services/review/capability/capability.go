// Package capability issues and verifies signed, purpose-scoped capability
// tokens. A token grants one bounded action on one subject until it expires;
// nothing is stored, so callers must re-check that the subject still exists
// and still accepts the purpose after a successful Verify.
package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
	"github.com/louisbranch/reviewdesk/internal/platform/id"
)

// Purpose scopes a token to one operation.
type Purpose string

const (
	PurposeUpdateRequest   Purpose = "update-request"
	PurposeReviewerReview  Purpose = "reviewer-review"
	PurposeReviewerInvoice Purpose = "reviewer-invoice"
)

// ReviewerMaxTTL bounds reviewer-review and reviewer-invoice tokens.
const ReviewerMaxTTL = 7 * 24 * time.Hour

// DefaultUpdateRequestMaxTTL bounds update-request tokens when the config
// leaves it unset.
const DefaultUpdateRequestMaxTTL = 30 * 24 * time.Hour

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeUpdateRequest, PurposeReviewerReview, PurposeReviewerInvoice:
		return true
	default:
		return false
	}
}

// Subject identifies the entities a token refers to. Which fields are
// required depends on the purpose.
type Subject struct {
	RequestID    string
	ProposalID   string
	ProposalKind string
	ReviewerID   string
}

// Claims captures validated token claims.
type Claims struct {
	Purpose   Purpose
	Subject   Subject
	IssuedAt  time.Time
	ExpiresAt time.Time
	JWTID     string
}

// tokenClaims is the wire form of a capability token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Purpose      string `json:"purpose"`
	RequestID    string `json:"request_id,omitempty"`
	ProposalID   string `json:"proposal_id,omitempty"`
	ProposalKind string `json:"proposal_kind,omitempty"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
}

var (
	// ErrNotConfigured indicates a missing issuer, audience, or key.
	ErrNotConfigured = errors.New("capability authority is not configured")
)

// Authority signs and verifies capability tokens with one ed25519 key.
type Authority struct {
	issuer        string
	audience      string
	key           ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	updateRequest time.Duration
	now           func() time.Time
	newID         func() (string, error)
}

// NewAuthority validates cfg and builds an Authority.
func NewAuthority(cfg Config) (*Authority, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	if issuer == "" || audience == "" || len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, ErrNotConfigured
	}
	publicKey, ok := cfg.Key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrNotConfigured
	}
	updateRequest := cfg.UpdateRequestMaxTTL
	if updateRequest <= 0 {
		updateRequest = DefaultUpdateRequestMaxTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	return &Authority{
		issuer:        issuer,
		audience:      audience,
		key:           cfg.Key,
		publicKey:     publicKey,
		updateRequest: updateRequest,
		now:           now,
		newID:         newID,
	}, nil
}

// MaxTTL returns the longest lifetime a token of purpose may carry.
func (a *Authority) MaxTTL(purpose Purpose) time.Duration {
	switch purpose {
	case PurposeUpdateRequest:
		return a.updateRequest
	case PurposeReviewerReview, PurposeReviewerInvoice:
		return ReviewerMaxTTL
	default:
		return 0
	}
}

// Issue signs a token for purpose and subject valid for ttl from now.
func (a *Authority) Issue(purpose Purpose, subject Subject, ttl time.Duration) (string, Claims, error) {
	return a.IssueAt(purpose, subject, a.now(), ttl)
}

// IssueAt signs a token as if issued at issuedAt. Callers that persist their
// own expiry use it so the token expiry matches the stored instant exactly.
func (a *Authority) IssueAt(purpose Purpose, subject Subject, issuedAt time.Time, ttl time.Duration) (string, Claims, error) {
	if !purpose.Valid() {
		return "", Claims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid, "capability purpose is unknown", map[string]string{"Purpose": string(purpose)})
	}
	if limit := a.MaxTTL(purpose); ttl <= 0 || ttl > limit {
		return "", Claims{}, apperrors.WithMetadata(
			apperrors.CodeTokenTTLInvalid,
			fmt.Sprintf("capability ttl %s outside (0, %s]", ttl, limit),
			map[string]string{"Purpose": string(purpose)},
		)
	}
	subject = normalizeSubject(subject)
	if err := requireSubject(purpose, subject); err != nil {
		return "", Claims{}, err
	}
	jti, err := a.newID()
	if err != nil {
		return "", Claims{}, fmt.Errorf("generate capability id: %w", err)
	}

	issuedAt = issuedAt.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl).Truncate(time.Second)
	wire := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        jti,
		},
		Purpose:      string(purpose),
		RequestID:    subject.RequestID,
		ProposalID:   subject.ProposalID,
		ProposalKind: subject.ProposalKind,
		ReviewerID:   subject.ReviewerID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, wire).SignedString(a.key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign capability token: %w", err)
	}
	return signed, Claims{
		Purpose:   purpose,
		Subject:   subject,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		JWTID:     jti,
	}, nil
}

// Verify checks the signature, audience, purpose and expiry of token.
//
// A token whose signature is valid but whose expiry has passed fails with
// CodeTokenExpired; the decoded claims are still returned with that error so
// the caller can clean up the referenced entity. Every other failure returns
// zero claims.
func (a *Authority) Verify(token string, expected Purpose) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "capability token is required")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer != a.issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid, "capability issuer mismatch", map[string]string{"Field": "issuer"})
	}
	if !audienceContains(parsed.Audience, a.audience) {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid, "capability audience mismatch", map[string]string{"Field": "audience"})
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "capability jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "capability exp is required")
	}

	purpose := Purpose(parsed.Purpose)
	if !purpose.Valid() {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "capability purpose is unknown")
	}
	if purpose != expected {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTokenWrongPurpose,
			fmt.Sprintf("capability purpose %s presented for %s", purpose, expected),
			map[string]string{"Purpose": string(purpose), "Expected": string(expected)},
		)
	}
	subject := normalizeSubject(Subject{
		RequestID:    parsed.RequestID,
		ProposalID:   parsed.ProposalID,
		ProposalKind: parsed.ProposalKind,
		ReviewerID:   parsed.ReviewerID,
	})
	if err := requireSubject(purpose, subject); err != nil {
		return Claims{}, err
	}

	claims := Claims{
		Purpose:   purpose,
		Subject:   subject,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if a.now().UTC().After(claims.ExpiresAt) {
		return claims, apperrors.New(apperrors.CodeTokenExpired, "capability token is expired")
	}
	return claims, nil
}

func normalizeSubject(subject Subject) Subject {
	return Subject{
		RequestID:    strings.TrimSpace(subject.RequestID),
		ProposalID:   strings.TrimSpace(subject.ProposalID),
		ProposalKind: strings.TrimSpace(subject.ProposalKind),
		ReviewerID:   strings.TrimSpace(subject.ReviewerID),
	}
}

func requireSubject(purpose Purpose, subject Subject) error {
	var missing string
	switch purpose {
	case PurposeUpdateRequest:
		if subject.RequestID == "" {
			missing = "request_id"
		}
	case PurposeReviewerReview:
		switch {
		case subject.ProposalID == "":
			missing = "proposal_id"
		case subject.ReviewerID == "":
			missing = "reviewer_id"
		case subject.ProposalKind == "":
			missing = "proposal_kind"
		}
	case PurposeReviewerInvoice:
		if subject.ReviewerID == "" {
			missing = "reviewer_id"
		}
	}
	if missing != "" {
		return apperrors.WithMetadata(apperrors.CodeTokenInvalid, "capability subject is incomplete", map[string]string{"Field": missing})
	}
	return nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "capability signature is invalid", err)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "capability alg is invalid", err)
	}
	return apperrors.Wrap(apperrors.CodeTokenInvalid, "capability token is invalid", err)
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
