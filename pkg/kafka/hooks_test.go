package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "FinWindow/pkg/logger"
)

type panicHook struct{ NoopHook }

func (panicHook) BeforeHandle(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
	panic("boom")
}

type countingHook struct {
	NoopHook
	errs int
}

func (h *countingHook) OnError(context.Context, string, kafka.Message, []byte, error) { h.errs++ }

func TestHookChainThreadsTraceID(t *testing.T) {
	chain := NewHookChain(nil, NewLoggingHook(applogger.Nop()))
	msg := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, data, err := chain.BeforeHandle(context.Background(), "history.invalidated", msg, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Equal(t, []byte("x"), data)
	assert.NotPanics(t, func() { chain.AfterHandle(ctx, "history.invalidated", msg, data, errors.New("failed")) })
}

func TestHookChainRecoversPanics(t *testing.T) {
	counter := &countingHook{}
	chain := NewHookChain(counter, panicHook{})

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, 1, counter.errs)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, 2*time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}
