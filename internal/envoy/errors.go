package envoy

import (
	"context"

	"codeberg.org/mutker/envoymon/internal/errors"
)

const (
	// Client configuration errors
	ErrMissingHost        = errors.ErrorCode("envoy_missing_host")
	ErrMissingCredentials = errors.ErrorCode("envoy_missing_credentials")

	// Fetch errors
	ErrAuthRejected   = errors.ErrorCode("envoy_auth_rejected")
	ErrFetchTransient = errors.ErrorCode("envoy_fetch_transient")
	ErrFetchFatal     = errors.ErrorCode("envoy_fetch_fatal")
)

// FailureKind classifies a failed fetch.
type FailureKind int

const (
	// FailureFatal is an unexpected, unclassified failure.
	FailureFatal FailureKind = iota
	// FailureAuth means the gateway rejected the session or credentials.
	FailureAuth
	// FailureTransient covers network errors, timeouts and malformed or
	// partial responses; the next poll cycle may succeed.
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classify maps a fetch error onto its failure kind. Errors that carry no
// classification are treated as fatal.
func Classify(err error) FailureKind {
	switch errors.CodeOf(err) {
	case ErrAuthRejected:
		return FailureAuth
	case ErrFetchTransient:
		return FailureTransient
	case ErrFetchFatal:
		return FailureFatal
	}

	// A fetch cut short by its deadline or by cancellation heals on a
	// later cycle.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}

	return FailureFatal
}

// IsAuthFailure reports whether err is an authorization rejection.
func IsAuthFailure(err error) bool {
	return err != nil && Classify(err) == FailureAuth
}
