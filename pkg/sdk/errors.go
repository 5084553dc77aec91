package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies API failures the way the server reports them.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication_error"
	KindAuthorization  ErrorKind = "authorization_error"
	KindValidation     ErrorKind = "validation_error"
	KindRateLimit      ErrorKind = "rate_limit_error"
	KindOAuth          ErrorKind = "oauth_error"
	KindNetwork        ErrorKind = "network_error"
	KindSettlement     ErrorKind = "settlement_error"
	KindNotFound       ErrorKind = "not_found"
	KindAPI            ErrorKind = "api_error"
)

// Error is returned for every failed call.
type Error struct {
	Kind ErrorKind
	// StatusCode is zero for transport failures.
	StatusCode int
	// Code refines OAuth errors, e.g. "state_mismatch".
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

func apiError(status int, body *errorBody) *Error {
	e := &Error{StatusCode: status, Kind: kindForStatus(status), Message: http.StatusText(status)}
	if body == nil {
		return e
	}
	if body.Error != "" {
		e.Kind = ErrorKind(body.Error)
	}
	if body.Detail != "" {
		e.Message = body.Detail
	}
	e.Code = body.Code
	return e
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindAPI
	}
}

// retryable reports whether a failed idempotent call may be repeated.
func retryable(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
