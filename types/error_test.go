package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"direct", NewError(KindTransient, "flaky upstream"), KindTransient},
		{"wrapped", fmt.Errorf("step failed: %w", NewError(KindInvalidResume, "mismatch")), KindInvalidResume},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NewError(KindCancelled, "stop"))), KindCancelled},
		{"unclassified", errors.New("plain"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindTransient, "timeout")))
	assert.True(t, IsRetryable(errors.New("unclassified")), "unclassified errors get the benefit of the doubt")
	assert.False(t, IsRetryable(NewError(KindNonRetryable, "bad args")))
	assert.False(t, IsRetryable(NewError(KindInvalidResume, "mismatch")))
	assert.False(t, IsRetryable(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(KindTransient, "fetch failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection reset")
}
