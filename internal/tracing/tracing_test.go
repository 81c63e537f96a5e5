package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedIDsAreUniqueAndWellFormed(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.True(t, strings.HasPrefix(id, "req_"))
		assert.Len(t, id, len("req_")+16)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate request id: %s", id)
		seen[id] = struct{}{}
	}

	assert.Len(t, GenerateTraceID(), 32)
	assert.Len(t, GenerateSpanID(), 16)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := time.Now()

	ctx = WithRequestID(ctx, "req_1")
	ctx = WithTraceID(ctx, "trace_1")
	ctx = WithSpanID(ctx, "span_1")
	ctx = WithStartTime(ctx, start)

	assert.Equal(t, "req_1", GetRequestID(ctx))
	assert.Equal(t, "trace_1", GetTraceID(ctx))
	assert.Equal(t, "span_1", GetSpanID(ctx))
	assert.Equal(t, start, GetStartTime(ctx))
}

func TestEmptyContextYieldsZeroValues(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
	assert.True(t, GetStartTime(ctx).IsZero())

	info := GetRequestInfo(ctx)
	require.NotNil(t, info)
	assert.Empty(t, info.RequestID)
}

func TestWithFullTracingPopulatesEverything(t *testing.T) {
	ctx := WithFullTracing(context.Background())

	info := GetRequestInfo(ctx)
	assert.NotEmpty(t, info.RequestID)
	assert.NotEmpty(t, info.TraceID)
	assert.NotEmpty(t, info.SpanID)
	assert.False(t, info.StartTime.IsZero())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), Duration(context.Background()))

	ctx := WithStartTime(context.Background(), time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)
}
