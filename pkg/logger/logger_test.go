package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "poscore/internal/core/context"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, logs := observed()
	SetDefault(l)
	SetDefault(nil)

	Info(context.Background(), "sale recorded", "sales_id", "7")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "7", logs.All()[0].ContextMap()["sales_id"])
}

func TestFromContext_PrefersCarriedLogger(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })
	fallback, fallbackLogs := observed()
	SetDefault(fallback)

	carried, logs := observed()
	ctx := WithLogger(context.Background(), carried)
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1"})

	FromContext(ctx).WithBranch("b1").Warnw("stock went negative")

	assert.Zero(t, fallbackLogs.Len())
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "b1", fields["branch_id"])
}

func TestWithBranch_EmptyIsUnchanged(t *testing.T) {
	l, logs := observed()
	l.WithBranch("").Infow("x")
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "branch_id")
}
