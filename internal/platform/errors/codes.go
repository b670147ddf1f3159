// Package errors provides structured, coded domain errors.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Capability token errors
	CodeTokenInvalid      Code = "TOKEN_INVALID"
	CodeTokenExpired      Code = "TOKEN_EXPIRED"
	CodeTokenWrongPurpose Code = "TOKEN_WRONG_PURPOSE"
	CodeTokenTTLInvalid   Code = "TOKEN_TTL_INVALID"

	// Update request errors
	CodeRequestExpired        Code = "REQUEST_EXPIRED"
	CodeRequestEmptyTargetID  Code = "REQUEST_EMPTY_TARGET_ID"
	CodeRequestEmptyRecipient Code = "REQUEST_EMPTY_RECIPIENT"
	CodeRequestEmptyIssuer    Code = "REQUEST_EMPTY_ISSUER"
	CodeRequestInvalidTTL     Code = "REQUEST_INVALID_TTL"
	CodeRequestInvalidKind    Code = "REQUEST_INVALID_TARGET_KIND"
	CodeRequestSubmitted      Code = "REQUEST_ALREADY_SUBMITTED"

	// Assignment errors
	CodeAssignmentEmptyReviewerID Code = "ASSIGNMENT_EMPTY_REVIEWER_ID"
	CodeAssignmentEmptyProposalID Code = "ASSIGNMENT_EMPTY_PROPOSAL_ID"
	CodeAssignmentInvalidKind     Code = "ASSIGNMENT_INVALID_PROPOSAL_KIND"
	CodeAssignmentNotPending      Code = "ASSIGNMENT_NOT_PENDING"
	CodeAlreadyAssigned           Code = "ALREADY_ASSIGNED"

	// Proposal errors
	CodeProposalInvalidField Code = "PROPOSAL_INVALID_FIELD"

	// Collaborator errors
	CodeNotificationFailed Code = "NOTIFICATION_FAILED"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeTargetNotFound Code = "TARGET_NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
)

// HTTPStatus maps domain codes to HTTP response status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeTokenInvalid,
		CodeTokenTTLInvalid,
		CodeRequestEmptyTargetID,
		CodeRequestEmptyRecipient,
		CodeRequestEmptyIssuer,
		CodeRequestInvalidTTL,
		CodeRequestInvalidKind,
		CodeAssignmentEmptyReviewerID,
		CodeAssignmentEmptyProposalID,
		CodeAssignmentInvalidKind,
		CodeProposalInvalidField:
		return http.StatusBadRequest

	// Forbidden - token presented to the wrong operation
	case CodeTokenWrongPurpose:
		return http.StatusForbidden

	// Gone - time-bounded capability is over
	case CodeTokenExpired,
		CodeRequestExpired:
		return http.StatusGone

	// Not found - referenced entity vanished or was revoked
	case CodeNotFound,
		CodeTargetNotFound:
		return http.StatusNotFound

	// Conflict - state or uniqueness disallows operation
	case CodeAlreadyAssigned,
		CodeAssignmentNotPending,
		CodeRequestSubmitted,
		CodeConflict:
		return http.StatusConflict

	// Bad gateway - external dependency failed
	case CodeNotificationFailed:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same operation unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeNotificationFailed, CodeConflict:
		return true
	default:
		return false
	}
}
