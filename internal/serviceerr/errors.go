// Package serviceerr holds the error kinds surfaced by the broker to its callers.
package serviceerr

import (
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeSessionTokenMalformed Code = "session_token_malformed"
	CodeSessionUnknown        Code = "session_unknown"
	CodeUnexpectedRequest     Code = "unexpected_request"

	CodeRequestInvalid   Code = "jwt_invalid"
	CodeRequestTooOld    Code = "jwt_too_old"
	CodeMalformedPayload Code = "malformed_payload"
	CodeMalformedInput   Code = "malformed_input"

	CodeUnauthorized     Code = "unauthorized"
	CodeAttributesWrong  Code = "attributes_wrong"
	CodeCannotIssue      Code = "cannot_issue"
	CodeInvalidTimestamp Code = "invalid_timestamp"
	CodeProtocolVersion  Code = "protocol_version"

	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"
	CodeUnknown  Code = "exception"
)

// Error is a categorised failure carrying a code and an optional human readable description.
type Error struct {
	Err         Code
	Description string
}

var (
	ErrSessionTokenMalformed = &Error{Err: CodeSessionTokenMalformed, Description: "session token missing or malformed"}
	ErrSessionUnknown        = &Error{Err: CodeSessionUnknown, Description: "unknown or expired session"}
	ErrUnexpectedRequest     = &Error{Err: CodeUnexpectedRequest, Description: "unexpected request in this state"}

	ErrRequestInvalid   = &Error{Err: CodeRequestInvalid, Description: "signed request invalid"}
	ErrRequestTooOld    = &Error{Err: CodeRequestTooOld}
	ErrMalformedPayload = &Error{Err: CodeMalformedPayload, Description: "request payload malformed"}
	ErrMalformedInput   = &Error{Err: CodeMalformedInput, Description: "input could not be parsed"}

	ErrUnauthorized     = &Error{Err: CodeUnauthorized, Description: "requester not authorized"}
	ErrAttributesWrong  = &Error{Err: CodeAttributesWrong, Description: "attributes do not match the credential type"}
	ErrCannotIssue      = &Error{Err: CodeCannotIssue, Description: "no signing key available"}
	ErrInvalidTimestamp = &Error{Err: CodeInvalidTimestamp, Description: "validity is not a multiple of the validity epoch"}
	ErrProtocolVersion  = &Error{Err: CodeProtocolVersion, Description: "protocol version not supported"}

	ErrNotFound = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConflict = &Error{Err: CodeConflict, Description: "already exists"}
	ErrUnknown  = &Error{Err: CodeUnknown, Description: "unknown error"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is reports whether target carries the same code, so wrapped or described
// copies still match the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == e.Err
}

// WithDescription returns a copy of e with a different description.
func (e *Error) WithDescription(format string, args ...any) *Error {
	return &Error{Err: e.Err, Description: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps the error code to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeSessionTokenMalformed, CodeSessionUnknown, CodeUnexpectedRequest,
		CodeRequestInvalid, CodeRequestTooOld, CodeMalformedPayload, CodeMalformedInput,
		CodeAttributesWrong, CodeInvalidTimestamp, CodeProtocolVersion:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RequestTooOld reports a signed request older than the allowed maximum.
func RequestTooOld(maxAge, age time.Duration) *Error {
	return ErrRequestTooOld.WithDescription("max age %s, was %s", maxAge, age.Truncate(time.Second))
}
