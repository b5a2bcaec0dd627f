package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsError(t *testing.T) {
	orig := newError(ErrorNotFound, "workflow_not_found", "Workflow not found", errBoom)
	wrapped := fmt.Errorf("outer: %w", orig)

	got := AsError(wrapped)
	require.Same(t, orig, got)
	require.ErrorIs(t, got, errBoom)

	got = AsError(errBoom)
	require.Equal(t, ErrorInternal, got.Code)
	require.Equal(t, "Internal server error", got.Detail)
}

func TestErrorString(t *testing.T) {
	require.Equal(t, "usecase: RATE_LIMITED (rate_limited): Rate limit exceeded", RateLimited().Error())
	require.Contains(t, newError(ErrorUpstream, "r", "d", errBoom).Error(), ": boom")

	var nilErr *Error
	require.Empty(t, nilErr.Error())
	require.NoError(t, nilErr.Unwrap())
}
