package intel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the closed set of per-source failure modes. Provider
// specific errors never leave this package in any other shape.
type ErrorKind string

const (
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindUnreachable     ErrorKind = "unreachable"
	ErrKindInvalidResponse ErrorKind = "invalid_response"
	ErrKindAuthError       ErrorKind = "auth_error"
	// ErrKindRateLimited covers both a local admission denial and a
	// provider-side 429.
	ErrKindRateLimited ErrorKind = "rate_limited"
)

// SourceError is a classified failure of a single source lookup.
type SourceError struct {
	Source Source
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from any error produced by a source
// lookup. Unclassified errors report as unreachable.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindUnreachable
}

// classifyTransportError maps network-level failures onto the closed set.
func classifyTransportError(src Source, err error) *SourceError {
	kind := ErrKindUnreachable

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrKindTimeout
	}

	return &SourceError{Source: src, Kind: kind, Err: err}
}

// classifyStatus maps a non-2xx HTTP status onto the closed set. A 2xx
// status reports nil.
func classifyStatus(src Source, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &SourceError{Source: src, Kind: ErrKindAuthError, Err: fmt.Errorf("status %d", status)}
	case status == http.StatusTooManyRequests:
		return &SourceError{Source: src, Kind: ErrKindRateLimited, Err: fmt.Errorf("status %d", status)}
	default:
		return &SourceError{Source: src, Kind: ErrKindInvalidResponse, Err: fmt.Errorf("status %d", status)}
	}
}
