package domain

import "errors"

// Error is a domain failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// Is matches on the code so wrapped copies still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e != nil && other != nil && e.Code == other.Code
}

var (
	ErrValidation = &Error{Code: "VALIDATION_ERROR", Message: "validation failed"}
	ErrNotFound   = &Error{Code: "NOT_FOUND", Message: "resource not found"}
	ErrConflict   = &Error{Code: "CONFLICT", Message: "resource conflict"}
	ErrForbidden  = &Error{Code: "FORBIDDEN", Message: "caller does not own resource"}

	// Campaign-level dispatch failures.
	ErrNoRecipientSource = &Error{Code: "NO_RECIPIENT_SOURCE", Message: "campaign has no smart lists"}
	ErrNoValidRecipient  = &Error{Code: "NO_VALID_RECIPIENT", Message: "no candidate has a usable endpoint"}

	// Recipient-level failures, absorbed by the dispatcher.
	ErrAmbiguousRecipient  = &Error{Code: "AMBIGUOUS_RECIPIENT", Message: "candidate has more than one matching endpoint"}
	ErrProviderSendFailure = &Error{Code: "PROVIDER_SEND_FAILURE", Message: "provider rejected send"}

	// Redirect failures.
	ErrInvalidSignature = &Error{Code: "INVALID_SIGNATURE", Message: "redirect signature is invalid or expired"}
	ErrLinkNotFound     = &Error{Code: "LINK_NOT_FOUND", Message: "tracked link not found"}
	ErrEmptyDestination = &Error{Code: "EMPTY_DESTINATION", Message: "tracked link has no destination"}

	ErrUnresolvableCallback = &Error{Code: "UNRESOLVABLE_CALLBACK", Message: "callback did not match any send"}
)

// CodeOf returns the domain code carried by err, or "" when none is present.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
