package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKindRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindUnavailable, true},
		{KindRateLimited, true},
		{KindTimeout, true},
		{KindInvalidRequest, false},
		{KindUnauthorized, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestKindOfClassified(t *testing.T) {
	err := NewError(KindRateLimited, "p1", errors.New("429"))
	if KindOf(err) != KindRateLimited {
		t.Errorf("expected rate_limited, got %s", KindOf(err))
	}

	// Wrapping must not hide the kind.
	wrapped := fmt.Errorf("invoke failed: %w", err)
	if KindOf(wrapped) != KindRateLimited {
		t.Errorf("expected rate_limited through wrapping, got %s", KindOf(wrapped))
	}
}

func TestKindOfUnclassifiedDefaultsToUnavailable(t *testing.T) {
	if KindOf(errors.New("connection reset")) != KindUnavailable {
		t.Error("unclassified errors should default to unavailable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindUnavailable, "p1", cause)
	if !errors.Is(err, cause) {
		t.Error("classified error should unwrap to its cause")
	}
}

func TestChainExhaustedErrorMessage(t *testing.T) {
	err := &ChainExhaustedError{
		RequestID: "req-1",
		Attempts: []ProviderAttempt{
			{ProviderID: "a", Err: NewError(KindUnavailable, "a", errors.New("down")), Retries: 2},
			{ProviderID: "b", Skipped: true},
		},
	}

	msg := err.Error()
	if !strings.Contains(msg, "req-1") {
		t.Errorf("message should name the request: %s", msg)
	}
	if !strings.Contains(msg, "a: unavailable") {
		t.Errorf("message should include provider a's error: %s", msg)
	}
	if !strings.Contains(msg, "b: skipped") {
		t.Errorf("message should mark provider b skipped: %s", msg)
	}
}
