package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreUnavailable, "redis down").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true).
		WithComponent("memory-store")

	if GetErrorCode(err) != ErrStoreUnavailable {
		t.Fatalf("expected code %s, got %s", ErrStoreUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedExtraction(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrRateLimited, "too many requests").WithRetryable(true)
	wrapped := fmt.Errorf("call provider: %w", inner)

	if GetErrorCode(wrapped) != ErrRateLimited {
		t.Fatalf("expected code extraction through wrapping, got %s", GetErrorCode(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("expected retryable through wrapping")
	}
	if !IsCode(wrapped, ErrRateLimited) {
		t.Fatalf("expected IsCode match")
	}
	if IsCode(errors.New("plain"), ErrRateLimited) {
		t.Fatalf("plain error must not match any code")
	}
}

func TestNewValidationError(t *testing.T) {
	t.Parallel()

	err := NewValidationError("member_name is empty")
	if err.Code != ErrValidation {
		t.Fatalf("expected %s, got %s", ErrValidation, err.Code)
	}
	if err.HTTPStatus != 400 {
		t.Fatalf("expected 400, got %d", err.HTTPStatus)
	}
	if IsRetryable(err) {
		t.Fatalf("validation errors are not retryable")
	}
}
