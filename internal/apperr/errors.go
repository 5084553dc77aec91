// Package apperr defines the error taxonomy shared by every request path and
// the HTTP status each kind of failure is reported with.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	// KindAuthentication is returned when no identity could be resolved.
	KindAuthentication Kind = "authentication_error"

	// KindAuthorization is returned when an identity was resolved but lacks privilege.
	KindAuthorization Kind = "authorization_error"

	// KindValidation is returned for malformed or out-of-bounds submissions.
	KindValidation Kind = "validation_error"

	// KindRateLimit is returned when a caller exhausted its quota.
	KindRateLimit Kind = "rate_limit_error"

	// KindOAuth is returned for state/PKCE mismatches and provider exchange failures.
	KindOAuth Kind = "oauth_error"

	// KindNetwork is returned for transport-level failures to an external
	// collaborator. It is reported as a 500 like any other upstream failure.
	KindNetwork Kind = "network_error"

	// KindSettlement is returned when the ledger call failed.
	KindSettlement Kind = "settlement_error"

	// KindNotFound is returned for unknown resources such as an unsupported provider.
	KindNotFound Kind = "not_found"

	// KindBadRequest is returned for missing parameters and undecodable bodies.
	KindBadRequest Kind = "bad_request"

	// KindTooLarge is returned when a request body exceeds the accepted size.
	KindTooLarge Kind = "payload_too_large"

	// KindInternal is returned for unexpected failures.
	KindInternal Kind = "internal_error"
)

// OAuth error codes. The state_* and verifier_* codes are produced by our own
// CSRF/PKCE checks, the provider_* codes by the upstream token endpoint.
// provider_unreachable refines a network error rather than an oauth one.
const (
	CodeStateMissing        = "state_missing"
	CodeStateMismatch       = "state_mismatch"
	CodeVerifierMissing     = "verifier_missing"
	CodeProviderRejected    = "provider_rejected"
	CodeProviderUnreachable = "provider_unreachable"
)

// Error represents an error in the application.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Code optionally refines Kind (used by OAuth errors).
	Code string

	// Message is the caller-visible reason.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code the error is reported with.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindOAuth:
		if e.LocalCheck() {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// LocalCheck reports whether an OAuth error came from our own state/PKCE
// verification rather than from the provider.
func (e *Error) LocalCheck() bool {
	if e.Kind != KindOAuth {
		return false
	}
	switch e.Code {
	case CodeStateMissing, CodeStateMismatch, CodeVerifierMissing:
		return true
	}
	return false
}

// New creates a new error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewAuthentication creates a new authentication error.
func NewAuthentication(message string) *Error {
	return New(KindAuthentication, message, nil)
}

// NewAuthorization creates a new authorization error.
func NewAuthorization(message string) *Error {
	return New(KindAuthorization, message, nil)
}

// NewValidation creates a new validation error.
func NewValidation(message string) *Error {
	return New(KindValidation, message, nil)
}

// NewRateLimit creates a new rate limit error.
func NewRateLimit(message string) *Error {
	return New(KindRateLimit, message, nil)
}

// NewOAuth creates a new OAuth error carrying one of the Code* constants.
func NewOAuth(code, message string, cause error) *Error {
	return &Error{Kind: KindOAuth, Code: code, Message: message, Cause: cause}
}

// NewNetwork creates a new network error with an optional refining code.
func NewNetwork(code, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Code: code, Message: message, Cause: cause}
}

// NewSettlement creates a new settlement error.
func NewSettlement(message string, cause error) *Error {
	return New(KindSettlement, message, cause)
}

// NewNotFound creates a new not found error.
func NewNotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// NewBadRequest creates a new bad request error.
func NewBadRequest(message string) *Error {
	return New(KindBadRequest, message, nil)
}

// NewInternal creates a new internal error.
func NewInternal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status err should be reported with.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// IsAuthentication checks if the error is an authentication error.
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsAuthorization checks if the error is an authorization error.
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsRateLimit checks if the error is a rate limit error.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsOAuth checks if the error is an OAuth error.
func IsOAuth(err error) bool { return KindOf(err) == KindOAuth }

// IsNetwork checks if the error is a network error.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsSettlement checks if the error is a settlement error.
func IsSettlement(err error) bool { return KindOf(err) == KindSettlement }

// CodeOf returns the refining code of err, if any.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
