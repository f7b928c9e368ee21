package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
	"FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
)

type phaseRecorder struct {
	mu     sync.Mutex
	phases []FetchPhase
}

func (r *phaseRecorder) hook(evt FetchEvent) {
	r.mu.Lock()
	r.phases = append(r.phases, evt.Phase)
	r.mu.Unlock()
}

func (r *phaseRecorder) get() []FetchPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchPhase(nil), r.phases...)
}

func newTestFetcher(src *fakeSource, rec *phaseRecorder) (*SeriesFetcher, *SeriesStore) {
	store := NewSeriesStore()
	var hook func(FetchEvent)
	if rec != nil {
		hook = rec.hook
	}
	return NewSeriesFetcher("p1", src, store, metrics.Nop{}, logger.Nop(), hook), store
}

func rangeRequest(start, end date.Date, mode MergeMode) FetchRequest {
	return FetchRequest{Start: datePtr(start), End: datePtr(end), Mode: mode, Reason: "test"}
}

func TestFetcherSingleFlight(t *testing.T) {
	d := date.MustParse("2024-05-01")
	src := newFakeSource(daily(d, 10))
	gate := src.block()
	f, store := newTestFetcher(src, nil)

	done, ok := f.Fetch(context.Background(), rangeRequest(d, d.Add(9), MergeReplace))
	require.True(t, ok)
	assert.Equal(t, FetchLoading, f.State())

	_, ok = f.Fetch(context.Background(), rangeRequest(d.Add(-10), d, MergeAppend))
	assert.False(t, ok, "second trigger while loading is dropped")

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, FetchIdle, f.State())
	assert.Len(t, src.calls(), 1)
	n, _, _ := store.Bounds()
	assert.Equal(t, 10, n)
}

func TestFetcherErrorKeepsData(t *testing.T) {
	d := date.MustParse("2024-05-01")
	src := newFakeSource(daily(d, 5))
	rec := &phaseRecorder{}
	f, store := newTestFetcher(src, rec)

	done, ok := f.Fetch(context.Background(), rangeRequest(d, d.Add(4), MergeReplace))
	require.True(t, ok)
	require.NoError(t, <-done)

	src.setErr(errors.New("connection refused"))
	done, ok = f.Fetch(context.Background(), rangeRequest(d.Add(-30), d, MergeAppend))
	require.True(t, ok)
	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNetwork))
	var netErr *models.NetworkError
	assert.True(t, errors.As(err, &netErr))

	assert.Equal(t, FetchIdle, f.State())
	assert.Equal(t, models.LoadFailedMessage, f.LastError())
	n, _, _ := store.Bounds()
	assert.Equal(t, 5, n)
	assert.Equal(t, d, store.LoadedRange().Start)

	src.setErr(nil)
	done, _ = f.Fetch(context.Background(), rangeRequest(d, d.Add(4), MergeReplace))
	require.NoError(t, <-done)
	assert.Empty(t, f.LastError())

	assert.Equal(t, []FetchPhase{FetchStarted, FetchApplied, FetchStarted, FetchFailed, FetchStarted, FetchApplied}, rec.get())
}

func TestFetcherDiscardsSupersededCompletion(t *testing.T) {
	d := date.MustParse("2024-05-01")
	src := newFakeSource(daily(d, 5))
	gate := src.block()
	rec := &phaseRecorder{}
	f, store := newTestFetcher(src, rec)

	done, ok := f.Fetch(context.Background(), rangeRequest(d, d.Add(4), MergeReplace))
	require.True(t, ok)
	f.Invalidate()
	close(gate)

	assert.ErrorIs(t, <-done, ErrFetchSuperseded)
	n, _, _ := store.Bounds()
	assert.Equal(t, 0, n)
	assert.Nil(t, store.LoadedRange())
	assert.Equal(t, FetchIdle, f.State())
	assert.Equal(t, []FetchPhase{FetchStarted, FetchDiscarded}, rec.get())
}

func TestFetchStateString(t *testing.T) {
	assert.Equal(t, "idle", FetchIdle.String())
	assert.Equal(t, "loading", FetchLoading.String())
}
