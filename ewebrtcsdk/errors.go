/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package ewebrtcsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode is the stable, public error code attached to every SDK error.
// Callers match on ErrorCode (via CodeOf) instead of inspecting transport
// status codes.
type ErrorCode string

const (
	// CodePrecondition marks an intent rejected before any transport call.
	CodePrecondition ErrorCode = "precondition"
	// CodeProtocol marks an HTTP-level success whose signaling semantics
	// were not met (wrong state marker, malformed body).
	CodeProtocol ErrorCode = "protocol"
	// CodeNetwork marks a transport-level connection failure.
	CodeNetwork ErrorCode = "network"
	// CodeTimeout marks a transport-level timeout.
	CodeTimeout ErrorCode = "timeout"
	// CodeMedia marks a failure in the media capture or peer-connection layer.
	CodeMedia ErrorCode = "media"
	// CodeChannel marks a fatal event-channel failure.
	CodeChannel ErrorCode = "channel"
	// CodeNegotiation marks an SDP negotiation failure, including stale
	// remote modifications.
	CodeNegotiation ErrorCode = "negotiation"
	// CodeDuplicateSession marks a connect attempt on an already
	// connected session.
	CodeDuplicateSession ErrorCode = "duplicate-session"
	// CodeAPI marks an HTTP error response not otherwise classified.
	CodeAPI ErrorCode = "api"
)

// OperationError is the base error type for failures raised while performing
// a named signaling operation. All taxonomy sub-types embed this struct, so
// consumers can use errors.As(err, &opErr) to access common fields regardless
// of the specific error type.
type OperationError struct {
	// Code is the stable public error code.
	Code ErrorCode

	// Operation is the name of the operation that was being attempted.
	Operation string

	// ResourceID is the call or session id involved, when known.
	ResourceID string

	// Message describes the failure.
	Message string

	// Err is an optional wrapped error for errors.Unwrap support.
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s error", e.Code)
	if e.Operation != "" {
		msg += " in " + e.Operation
	}
	if e.ResourceID != "" {
		msg += " (resource " + e.ResourceID + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// WithResource returns the error with its resource id set. It mutates and
// returns the receiver so call sites can tag and propagate in one expression.
func (e *OperationError) WithResource(id string) *OperationError {
	e.ResourceID = id
	return e
}

// --- Taxonomy sub-types ---

// PreconditionError reports an intent that failed validation before any
// transport call was made; the originating state is unchanged.
type PreconditionError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *PreconditionError) Unwrap() error { return e.OperationError }

// ProtocolError reports a transport call that succeeded at the HTTP level but
// did not satisfy the signaling server's semantics.
type ProtocolError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *ProtocolError) Unwrap() error { return e.OperationError }

// NetworkError reports a transport-level connection failure.
type NetworkError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *NetworkError) Unwrap() error { return e.OperationError }

// TimeoutError reports a transport-level timeout.
type TimeoutError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *TimeoutError) Unwrap() error { return e.OperationError }

// MediaError reports a failure from the media capture or peer-connection
// collaborator, tagged with the failing operation.
type MediaError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *MediaError) Unwrap() error { return e.OperationError }

// ChannelError reports a fatal event-channel failure (e.g. repeated 401s).
type ChannelError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *ChannelError) Unwrap() error { return e.OperationError }

// NegotiationError reports an SDP negotiation failure. It is fatal to the
// current connect or modification attempt and is never retried internally.
type NegotiationError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *NegotiationError) Unwrap() error { return e.OperationError }

// DuplicateSessionError reports a session connect attempt while another
// session is already connected.
type DuplicateSessionError struct {
	*OperationError
}

// Unwrap returns the underlying OperationError for errors.As traversal.
func (e *DuplicateSessionError) Unwrap() error { return e.OperationError }

// --- Constructors ---

func newOperationError(code ErrorCode, operation, message string, err error) *OperationError {
	return &OperationError{Code: code, Operation: operation, Message: message, Err: err}
}

// NewPreconditionError creates a PreconditionError for the given operation.
func NewPreconditionError(operation, message string) *PreconditionError {
	return &PreconditionError{newOperationError(CodePrecondition, operation, message, nil)}
}

// NewProtocolError creates a ProtocolError for the given operation.
func NewProtocolError(operation, message string, err error) *ProtocolError {
	return &ProtocolError{newOperationError(CodeProtocol, operation, message, err)}
}

// NewNetworkError creates a NetworkError for the given operation.
func NewNetworkError(operation string, err error) *NetworkError {
	return &NetworkError{newOperationError(CodeNetwork, operation, "", err)}
}

// NewTimeoutError creates a TimeoutError for the given operation.
func NewTimeoutError(operation string, err error) *TimeoutError {
	return &TimeoutError{newOperationError(CodeTimeout, operation, "", err)}
}

// NewMediaError creates a MediaError for the given operation.
func NewMediaError(operation, message string, err error) *MediaError {
	return &MediaError{newOperationError(CodeMedia, operation, message, err)}
}

// NewChannelError creates a ChannelError.
func NewChannelError(message string, err error) *ChannelError {
	return &ChannelError{newOperationError(CodeChannel, "event-channel", message, err)}
}

// NewNegotiationError creates a NegotiationError for the given operation.
func NewNegotiationError(operation, message string, err error) *NegotiationError {
	return &NegotiationError{newOperationError(CodeNegotiation, operation, message, err)}
}

// NewDuplicateSessionError creates a DuplicateSessionError.
func NewDuplicateSessionError(message string) *DuplicateSessionError {
	return &DuplicateSessionError{newOperationError(CodeDuplicateSession, "connect", message, nil)}
}

// --- Convenience functions ---

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var e *PreconditionError
	return errors.As(err, &e)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// IsMedia reports whether err is a MediaError.
func IsMedia(err error) bool {
	var e *MediaError
	return errors.As(err, &e)
}

// IsChannel reports whether err is a ChannelError.
func IsChannel(err error) bool {
	var e *ChannelError
	return errors.As(err, &e)
}

// IsNegotiation reports whether err is a NegotiationError.
func IsNegotiation(err error) bool {
	var e *NegotiationError
	return errors.As(err, &e)
}

// IsDuplicateSession reports whether err is a DuplicateSessionError.
func IsDuplicateSession(err error) bool {
	var e *DuplicateSessionError
	return errors.As(err, &e)
}

// CodeOf returns the stable ErrorCode for any SDK error. Unknown errors map
// to CodeAPI so every failure reaching the public surface carries a code.
func CodeOf(err error) ErrorCode {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return CodeAPI
	}
	return CodeAPI
}

// OperationOf returns the operation name tagged on err, or an empty string.
func OperationOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Operation
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Operation
	}
	return ""
}

// --- HTTP-level errors ---

// APIError is the base error type for HTTP error responses from the signaling
// server. It provides structured access to the status code, error message,
// tracking ID, and raw response body. Specific sub-types embed this struct,
// so consumers can use errors.As(err, &apiErr) to access common fields
// regardless of the specific error type.
type APIError struct {
	// StatusCode is the HTTP status code from the response.
	StatusCode int

	// Status is the HTTP status line (e.g., "404 Not Found").
	Status string

	// Operation is the named operation being performed, when known.
	Operation string

	// Message is the error message from the response body.
	Message string

	// TrackingID is the server tracking identifier for support debugging.
	TrackingID string

	// RetryAfter is the duration to wait before retrying, parsed from
	// the Retry-After header. Zero if not applicable.
	RetryAfter time.Duration

	// RawBody is the raw response body bytes, preserved for debugging.
	RawBody []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error: %d", e.StatusCode)
	if e.Operation != "" {
		msg += " in " + e.Operation
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.TrackingID != "" {
		msg += " (trackingId: " + e.TrackingID + ")"
	}
	return msg
}

// RateLimitError is returned for HTTP 429 Too Many Requests responses.
type RateLimitError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *RateLimitError) Unwrap() error { return e.APIError }

// AuthError is returned for HTTP 401 Unauthorized responses.
type AuthError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *AuthError) Unwrap() error { return e.APIError }

// ForbiddenError is returned for HTTP 403 Forbidden responses.
type ForbiddenError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ForbiddenError) Unwrap() error { return e.APIError }

// NotFoundError is returned for HTTP 404 Not Found responses.
type NotFoundError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *NotFoundError) Unwrap() error { return e.APIError }

// ConflictError is returned for HTTP 409 Conflict responses.
type ConflictError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ConflictError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP 5xx responses (500, 502, 503, 504).
type ServerError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ServerError) Unwrap() error { return e.APIError }

// apiErrorBody is used to parse the signaling server error response JSON.
type apiErrorBody struct {
	Message    string `json:"message"`
	Reason     string `json:"reason"`
	TrackingID string `json:"trackingId"`
}

// NewAPIError creates a structured error from an HTTP response and its body.
// It parses the JSON body for message and trackingId fields, reads the
// Retry-After header, and returns the appropriate error sub-type based
// on the HTTP status code.
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
	}

	var parsed apiErrorBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err == nil {
			base.Message = parsed.Message
			if base.Message == "" {
				base.Message = parsed.Reason
			}
			base.TrackingID = parsed.TrackingID
		}
		// If JSON parsing fails, leave Message empty — RawBody preserves the original
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized: // 401
		return &AuthError{APIError: base}
	case http.StatusForbidden: // 403
		return &ForbiddenError{APIError: base}
	case http.StatusNotFound: // 404
		return &NotFoundError{APIError: base}
	case http.StatusConflict: // 409
		return &ConflictError{APIError: base}
	case http.StatusTooManyRequests: // 429
		return &RateLimitError{APIError: base}
	case http.StatusInternalServerError, // 500
		http.StatusBadGateway,         // 502
		http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout:     // 504
		return &ServerError{APIError: base}
	default:
		return base
	}
}

// tagOperation attaches the operation name to an HTTP-level error.
func tagOperation(err error, operation string) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Operation = operation
	}
}

// IsRateLimited reports whether err is a rate limit error (HTTP 429).
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a not found error (HTTP 404).
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsAuthError reports whether err is an authentication error (HTTP 401).
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a conflict error (HTTP 409).
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsServerError reports whether err is a server error (HTTP 5xx).
func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}
