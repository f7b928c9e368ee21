package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
	"FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(src *fakeSource, clock *fakeClock, opts ...RegistryOption) *SessionRegistry {
	opts = append([]RegistryOption{WithRegistryClock(clock.Now, func() date.Date { return testToday })}, opts...)
	return NewSessionRegistry(src,
		WindowConfig{DefaultWindowDays: 30, Debounce: 10 * time.Millisecond},
		time.Minute, nil, metrics.Nop{}, logger.Nop(),
		opts...,
	)
}

type closeRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *closeRecorder) record(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *closeRecorder) closed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestRegistryOpenGetClose(t *testing.T) {
	src := newFakeSource(tenPoints())
	r := newTestRegistry(src, &fakeClock{now: time.Now()})
	defer r.CloseAll()

	ctrl, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)
	assert.NotEmpty(t, ctrl.SessionID())
	assert.Len(t, ctrl.View().Data, 10)

	got, err := r.Get(ctrl.SessionID())
	require.NoError(t, err)
	assert.Same(t, ctrl, got)

	require.NoError(t, r.Close(ctrl.SessionID()))
	_, err = r.Get(ctrl.SessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Close(ctrl.SessionID()), ErrSessionNotFound)
	assert.ErrorIs(t, ctrl.Refetch(context.Background()), ErrControllerClosed)
}

func TestRegistryOpenKeepsSessionOnLoadFailure(t *testing.T) {
	src := newFakeSource(nil)
	src.setErr(assert.AnError)
	r := newTestRegistry(src, &fakeClock{now: time.Now()})
	defer r.CloseAll()

	ctrl, err := r.Open(context.Background(), "p1")
	require.Error(t, err)
	require.NotNil(t, ctrl)
	assert.Equal(t, 1, r.Len())
	assert.NotEmpty(t, ctrl.View().Error)
}

func TestRegistryEvictIdle(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	src := newFakeSource(tenPoints())
	r := newTestRegistry(src, clock)
	defer r.CloseAll()

	idle, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)
	clock.Advance(45 * time.Second)
	active, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, r.EvictIdle())
	assert.Equal(t, 1, r.Len())

	_, err = r.Get(idle.SessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(active.SessionID())
	assert.NoError(t, err)
}

func TestRegistryRefetchPortfolio(t *testing.T) {
	src := newFakeSource(tenPoints())
	r := newTestRegistry(src, &fakeClock{now: time.Now()})
	defer r.CloseAll()

	for _, id := range []string{"p1", "p1", "p2"} {
		_, err := r.Open(context.Background(), id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, r.RefetchPortfolio(context.Background(), "p1"))
	assert.Equal(t, 0, r.RefetchPortfolio(context.Background(), "unknown"))

	fresh := 0
	for _, q := range src.calls() {
		if q.Fresh {
			assert.Equal(t, "p1", q.PortfolioID)
			fresh++
		}
	}
	assert.Equal(t, 2, fresh)
}

func TestRegistryRefetchPortfolioWaitsForInFlightRead(t *testing.T) {
	src := newFakeSource(tenPoints())
	r := newTestRegistry(src, &fakeClock{now: time.Now()})
	defer r.CloseAll()

	ctrl, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)
	<-src.started

	gate := src.block()
	extended := make(chan error, 1)
	go func() {
		extended <- ctrl.ExtendDateRange(context.Background(), testToday.Add(-60), testToday.Add(-31))
	}()
	<-src.started

	revalued := make(models.Series, 0, 10)
	for _, p := range tenPoints() {
		revalued = append(revalued, point(p.Date, 1000))
	}
	src.setData(revalued)

	assert.Equal(t, 1, r.RefetchPortfolio(context.Background(), "p1"))
	for _, q := range src.calls() {
		assert.False(t, q.Fresh, "no fresh read may start while the extension holds the fetcher")
	}

	src.unblock()
	close(gate)
	require.NoError(t, <-extended)

	require.Eventually(t, func() bool {
		v := ctrl.View()
		if v.Loading || len(v.Data) != 10 {
			return false
		}
		for _, p := range v.Data {
			if p.Metrics["value"].IntPart() != 1000 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	fresh := 0
	for _, q := range src.calls() {
		if q.Fresh {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestRegistryOnCloseRunsForEveryExit(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	rec := &closeRecorder{}
	r := newTestRegistry(newFakeSource(tenPoints()), clock, WithOnClose(rec.record))

	explicit, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)
	require.NoError(t, r.Close(explicit.SessionID()))
	assert.Equal(t, []string{explicit.SessionID()}, rec.closed())

	idle, err := r.Open(context.Background(), "p1")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, r.EvictIdle())
	assert.Equal(t, []string{explicit.SessionID(), idle.SessionID()}, rec.closed())

	last, err := r.Open(context.Background(), "p2")
	require.NoError(t, err)
	r.CloseAll()
	assert.Equal(t, []string{explicit.SessionID(), idle.SessionID(), last.SessionID()}, rec.closed())

	assert.ErrorIs(t, r.Close(explicit.SessionID()), ErrSessionNotFound)
	assert.Len(t, rec.closed(), 3, "closing an unknown session runs no hook")
}

func TestRegistryEvictionSchedule(t *testing.T) {
	r := newTestRegistry(newFakeSource(nil), &fakeClock{now: time.Now()})
	assert.Error(t, r.StartEviction("not a schedule"))
	require.NoError(t, r.StartEviction("@every 1h"))
	r.CloseAll()
	assert.Equal(t, 0, r.Len())
}
