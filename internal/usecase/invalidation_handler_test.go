package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
)

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, portfolioID string) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, portfolioID)
	c.mu.Unlock()
	return nil
}

func TestInvalidationHandler(t *testing.T) {
	src := newFakeSource(tenPoints())
	r := newTestRegistry(src, &fakeClock{now: time.Now()})
	defer r.CloseAll()
	_, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)

	cache := &recordingCache{}
	h := NewInvalidationHandler("history.invalidated", cache, r, metrics.Nop{}, logger.Nop())
	assert.Equal(t, "history.invalidated", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"portfolio_id":"p1"}`)))
	assert.Equal(t, []string{"p1"}, cache.invalidated)

	calls := src.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Fresh)

	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{}`)))
	assert.Len(t, cache.invalidated, 1)
}
