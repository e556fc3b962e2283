package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithSessionID(ctx, "6f1c2a4e-1b2c-4d5e-8f90-123456789abc")
	ctx = WithRequestID(ctx, "req_7")
	assert.Equal(t, "6f1c2a4e-1b2c-4d5e-8f90-123456789abc", SessionIDFromContext(ctx))
	assert.Equal(t, "req_7", RequestIDFromContext(ctx))
	assert.Len(t, ContextFields(ctx), 2)
}

func TestContextIDs_InvalidIgnored(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", strings.Repeat("x", maxIDLen+1)} {
		ctx := WithSessionID(context.Background(), id)
		ctx = WithRequestID(ctx, id)
		assert.Empty(t, SessionIDFromContext(ctx), id)
		assert.Empty(t, RequestIDFromContext(ctx), id)
	}
}

func TestFromContext(t *testing.T) {
	nop := FromContext(context.Background())
	assert.NotNil(t, nop)
	nop.Error(context.Background(), "dropped")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored logger used")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored logger")
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "s1")
	tl.Info(ctx, "session started")
	tl.Trace(ctx, "candidate scored")

	tl.AssertLogged(t, zapcore.InfoLevel, "session started")
	tl.AssertLogged(t, TraceLevel, "candidate")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "session")
	tl.AssertField(t, "session started", "session.id", "s1")
	tl.AssertNotContains(t, "AKIA")
	assert.Equal(t, 1, tl.FilterMessage("started").Len())

	tl.Reset()
	assert.Empty(t, tl.All())
}
