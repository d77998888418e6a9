package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Error codes covering every fatal failure class of the protocol adapter.
// Malformed stream chunks are deliberately absent: a single undecodable SSE
// line is skipped, never surfaced.
const (
	// ErrCodeBlockedContent marks a safety/policy block reported by the
	// vendor, mid-stream or in a full response.
	ErrCodeBlockedContent = "BLOCKED_CONTENT"
	// ErrCodeInvalidResponse marks a full response body lacking both a
	// content-parts path and a block-reason path.
	ErrCodeInvalidResponse = "INVALID_RESPONSE"
	// ErrCodeRequestFailed marks an HTTP 4xx/5xx answer.
	ErrCodeRequestFailed = "REQUEST_FAILED"
	// ErrCodeTransport marks a network / connection level failure.
	ErrCodeTransport = "TRANSPORT_ERROR"
	// ErrCodeUnexpected wraps any other failure encountered while building
	// requests or decoding responses.
	ErrCodeUnexpected = "UNEXPECTED_ERROR"
)

// Error is the uniform provider error returned for every fatal failure.
// Code categorizes the failure, StatusCode is set for HTTP-level failures
// (zero otherwise) and Details carries classification-specific payloads:
// the block reason and safety ratings for BLOCKED_CONTENT, the raw response
// body for INVALID_RESPONSE and REQUEST_FAILED.
//
// Retry policy is a caller concern; nothing is retried internally.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Details    any    `json:"details,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gemini error [%s] status %d: %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the original cause for errors.Is / errors.As chaining.
func (e *Error) Unwrap() error { return e.cause }

// BlockDetails carries the vendor's block reason and any safety ratings
// that accompanied it.
type BlockDetails struct {
	Reason        string `json:"reason"`
	SafetyRatings any    `json:"safety_ratings,omitempty"`
}

func newBlockedError(reason string, ratings any) *Error {
	return &Error{
		Code:    ErrCodeBlockedContent,
		Message: fmt.Sprintf("content blocked: %s", reason),
		Details: BlockDetails{Reason: reason, SafetyRatings: ratings},
	}
}

func newShapeError(body []byte, cause error) *Error {
	return &Error{
		Code:    ErrCodeInvalidResponse,
		Message: "response carries neither content parts nor a block reason",
		Details: string(body),
		cause:   cause,
	}
}

func newRequestError(status int, body []byte) *Error {
	return &Error{
		Code:       ErrCodeRequestFailed,
		Message:    requestFailureMessage(status, body),
		StatusCode: status,
		Details:    string(body),
	}
}

func newTransportError(err error) *Error {
	return &Error{
		Code:    ErrCodeTransport,
		Message: err.Error(),
		cause:   err,
	}
}

func newUnexpectedError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeUnexpected,
		Message: fmt.Sprintf("%s: %v", op, err),
		cause:   err,
	}
}

// classify guarantees a *Error comes out of any failure path. Existing
// provider errors pass through; context cancellation counts as transport
// (the connection was torn down); everything else is wrapped as unexpected.
func classify(err error) *Error {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newTransportError(err)
	}
	return newUnexpectedError("processing failed", err)
}

// requestFailureMessage probes the Google error envelope
// ({"error":{"message":...,"status":...}}) before falling back to the raw
// body, then the generic status text. Error bodies are the one place the
// adapter faces unknown JSON shapes, so the probe is lenient by design of
// the wire contract, not typed.
func requestFailureMessage(status int, body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		if apiStatus := gjson.GetBytes(body, "error.status"); apiStatus.Exists() && apiStatus.String() != "" {
			return fmt.Sprintf("%s (%s)", msg.String(), apiStatus.String())
		}
		return msg.String()
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(status)
}
