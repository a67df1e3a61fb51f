package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTraceID(t *testing.T) {
	t.Run("adds provided trace ID to context", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "test-trace-123")
		assert.Equal(t, "test-trace-123", GetTraceID(ctx))
	})

	t.Run("generates a trace ID when empty string provided", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "")

		traceID := GetTraceID(ctx)
		require.NotEmpty(t, traceID)
		assert.Len(t, traceID, 36)
	})

	t.Run("preserves other context values", func(t *testing.T) {
		type testKey string
		key := testKey("tenant")

		ctx := context.WithValue(context.Background(), key, "demo")
		ctx = WithTraceID(ctx, "abc")

		assert.Equal(t, "demo", ctx.Value(key))
		assert.Equal(t, "abc", GetTraceID(ctx))
	})
}

func TestGetTraceID(t *testing.T) {
	t.Run("returns empty for a bare context", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})

	t.Run("returns empty when the value is not a string", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), TraceIDKey, 42)
		assert.Empty(t, GetTraceID(ctx))
	})
}
