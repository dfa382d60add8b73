// Package provider defines the capability-provider boundary: the provider
// interface, the error taxonomy providers must fail with, the process-wide
// registry, and fallback-chain construction.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure. The executor's retry and
// circuit-breaking decisions key off the kind, never off concrete types.
type ErrorKind string

const (
	// KindUnavailable is a transient outage; retryable.
	KindUnavailable ErrorKind = "unavailable"
	// KindRateLimited means the remote throttled us; retryable after backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTimeout means the call exceeded its deadline; retryable while
	// the overall request deadline has budget left.
	KindTimeout ErrorKind = "timeout"
	// KindInvalidRequest means the payload was rejected; permanent.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindUnauthorized means credentials were rejected; permanent and
	// fatal for that provider.
	KindUnauthorized ErrorKind = "unauthorized"
)

// Retryable returns true for kinds the executor may retry on the same
// provider.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindUnavailable, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Provider identifies the failing provider, if known.
	Provider string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		fmt.Fprintf(&b, " (provider %s)", e.Provider)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified provider error.
func NewError(kind ErrorKind, providerID string, err error) *Error {
	return &Error{Kind: kind, Provider: providerID, Err: err}
}

// Errorf creates a classified provider error from a format string.
func Errorf(kind ErrorKind, providerID, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Provider: providerID, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind from err. Unclassified errors are
// treated as Unavailable so unknown failures stay retryable rather than
// poisoning the whole chain.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// IsRetryable reports whether the executor may retry after err.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// ChainExhaustedError aggregates the terminal error of every provider in
// a chain after a call ran out of fallbacks.
type ChainExhaustedError struct {
	// RequestID is the identity of the failed request.
	RequestID string
	// Attempts maps provider ID to its terminal error, in chain order.
	Attempts []ProviderAttempt
}

// ProviderAttempt is one provider's terminal outcome within an exhausted
// chain.
type ProviderAttempt struct {
	// ProviderID identifies the provider.
	ProviderID string
	// Err is the provider's terminal error, or nil if it was skipped.
	Err error
	// Skipped is true if the provider was never invoked (open circuit,
	// no token, or insufficient tier).
	Skipped bool
	// Retries is how many times the provider was retried before moving on.
	Retries int
}

// Error implements the error interface.
func (e *ChainExhaustedError) Error() string {
	var parts []string
	for _, a := range e.Attempts {
		switch {
		case a.Skipped:
			parts = append(parts, fmt.Sprintf("%s: skipped", a.ProviderID))
		case a.Err != nil:
			parts = append(parts, fmt.Sprintf("%s: %v", a.ProviderID, a.Err))
		}
	}
	return fmt.Sprintf("fallback chain exhausted for request %s: [%s]",
		e.RequestID, strings.Join(parts, "; "))
}
