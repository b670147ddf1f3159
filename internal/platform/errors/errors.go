package errors

import stderrors "errors"

// Error is a coded domain error. Message is for logs; user-facing copy is
// looked up by Code and filled from Metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so callers can compare against
// New(code, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata attaches template values for the localized message.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func first(err error) *Error {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeUnknown when err carries none.
func CodeOf(err error) Code {
	if domainErr := first(err); domainErr != nil {
		return domainErr.Code
	}
	return CodeUnknown
}

// MetadataOf returns the metadata of the first domain error in err's chain.
func MetadataOf(err error) map[string]string {
	if domainErr := first(err); domainErr != nil {
		return domainErr.Metadata
	}
	return nil
}

// HasCode reports whether err's chain contains a domain error with code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}
