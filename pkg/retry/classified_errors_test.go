package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/llm"
	"github.com/ekaya-inc/ekaya-srs/pkg/retry"
)

// TestIsRetryable_ClassifiedErrors checks that typed errors from the rest of
// the module declare their retryability through the IsRetryable method.
func TestIsRetryable_ClassifiedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "version label collision",
			err:      &apperrors.ConflictError{Resource: "version", Key: "v1.3"},
			expected: true,
		},
		{
			name:     "wrapped label collision",
			err:      fmt.Errorf("append version: %w", &apperrors.ConflictError{Resource: "version", Key: "v1.3"}),
			expected: true,
		},
		{
			name:     "persistence failure is never retried",
			err:      apperrors.Persistence("insert version", errors.New("connection reset by peer")),
			expected: false,
		},
		{
			name:     "validation failure",
			err:      apperrors.NewValidationError("kind", "bad kind"),
			expected: false,
		},
		{
			name:     "retryable model error",
			err:      llm.NewError(llm.ErrorTypeEndpoint, "server error", true, errors.New("HTTP 503")),
			expected: true,
		},
		{
			name:     "model auth error",
			err:      llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, errors.New("HTTP 401")),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}

// TestDoIfRetryable_LabelCollisions mirrors how the version chain uses the
// append policy: collisions are retried up to the attempt limit, then surfaced.
func TestDoIfRetryable_LabelCollisions(t *testing.T) {
	cfg := retry.AppendConfig(3)
	cfg.InitialDelay = time.Millisecond

	callCount := 0
	err := retry.DoIfRetryable(context.Background(), cfg, func() error {
		callCount++
		return &apperrors.ConflictError{Resource: "version", Key: fmt.Sprintf("v1.%d", callCount)}
	})

	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ConflictError after exhausting attempts, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 attempts, got %d", callCount)
	}
}
