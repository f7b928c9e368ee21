package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/pkg/date"
	"FinWindow/pkg/logger"
)

// ErrFetchSuperseded is returned to a waiting caller whose completed fetch was discarded
// because the fetcher was invalidated while it was in flight.
var ErrFetchSuperseded = errors.New("fetch superseded")

// FetchState is the fetcher's explicit state: Idle or Loading.
type FetchState int

const (
	FetchIdle FetchState = iota
	FetchLoading
)

func (s FetchState) String() string {
	if s == FetchLoading {
		return "loading"
	}
	return "idle"
}

// FetchRequest describes one backend read and how to merge its result.
type FetchRequest struct {
	Start *date.Date
	End   *date.Date
	Mode  MergeMode
	// MarkComplete is set on unbounded loads; success marks the total range complete.
	MarkComplete bool
	// Fresh bypasses the response cache.
	Fresh bool
	// Reason tags logs and events (initial, zoom_left, zoom_right, range, reset, all, refetch).
	Reason string
}

// FetchPhase identifies a fetch lifecycle notification.
type FetchPhase int

const (
	FetchStarted FetchPhase = iota
	FetchApplied
	FetchFailed
	FetchDiscarded
)

// FetchEvent is delivered to the fetcher hook on every state change.
type FetchEvent struct {
	Request FetchRequest
	Phase   FetchPhase
	Fetched int
	Points  int
	Err     error
}

// SeriesFetcher issues backend reads one at a time. A trigger that arrives while a read
// is in flight is dropped. Every read is tagged with a sequence number and a completion
// whose number is no longer current is discarded.
type SeriesFetcher struct {
	portfolioID string
	source      domrepo.HistorySource
	store       *SeriesStore
	metrics     domrepo.Metrics
	log         *logger.Logger
	hook        func(FetchEvent)

	mu      sync.Mutex
	state   FetchState
	seq     uint64
	lastErr string
}

func NewSeriesFetcher(
	portfolioID string,
	source domrepo.HistorySource,
	store *SeriesStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	hook func(FetchEvent),
) *SeriesFetcher {
	if hook == nil {
		hook = func(FetchEvent) {}
	}
	return &SeriesFetcher{
		portfolioID: portfolioID,
		source:      source,
		store:       store,
		metrics:     metrics,
		log:         log,
		hook:        hook,
	}
}

// Fetch starts a read on its own goroutine and returns a channel that receives its result
// once. It returns false, without any network call, when a read is already in flight.
func (f *SeriesFetcher) Fetch(ctx context.Context, req FetchRequest) (<-chan error, bool) {
	f.mu.Lock()
	if f.state == FetchLoading {
		f.mu.Unlock()
		f.metrics.RecordDropped("in_flight")
		f.log.Debug("fetch dropped, another is in flight", logger.String("reason", req.Reason))
		return nil, false
	}
	f.state = FetchLoading
	f.seq++
	seq := f.seq
	f.lastErr = ""
	f.mu.Unlock()

	f.hook(FetchEvent{Request: req, Phase: FetchStarted})

	done := make(chan error, 1)
	go f.run(ctx, req, seq, done)
	return done, true
}

func (f *SeriesFetcher) run(ctx context.Context, req FetchRequest, seq uint64, done chan<- error) {
	started := time.Now()
	batch, err := f.source.FetchHistory(ctx, models.HistoryQuery{
		PortfolioID: f.portfolioID,
		Start:       req.Start,
		End:         req.End,
		Fresh:       req.Fresh,
	})
	f.metrics.RecordLatency("fetch_history", time.Since(started).Seconds())
	if err != nil && !errors.Is(err, models.ErrNetwork) {
		err = &models.NetworkError{Op: "fetch history", Err: err}
	}

	evt := FetchEvent{Request: req, Fetched: len(batch), Err: err}

	f.mu.Lock()
	f.state = FetchIdle
	switch {
	case seq != f.seq:
		evt.Phase = FetchDiscarded
		evt.Err = ErrFetchSuperseded
	case err != nil:
		evt.Phase = FetchFailed
		f.lastErr = models.LoadFailedMessage
	default:
		evt.Phase = FetchApplied
		evt.Points = f.store.Apply(req, batch)
	}
	f.mu.Unlock()

	mode := string(req.Mode)
	switch evt.Phase {
	case FetchDiscarded:
		f.metrics.RecordFetch(mode, "stale")
		f.log.Debug("stale fetch discarded", logger.String("reason", req.Reason))
	case FetchFailed:
		f.metrics.RecordFetch(mode, "error")
		f.metrics.RecordError("fetch_history")
		f.log.Error("failed to load historical data",
			logger.String("portfolio", f.portfolioID),
			logger.String("reason", req.Reason),
			logger.Error(err))
	case FetchApplied:
		f.metrics.RecordFetch(mode, "ok")
		f.metrics.RecordBatchSize(mode, len(batch))
		f.log.Debug("batch merged",
			logger.String("reason", req.Reason),
			logger.Int("fetched", len(batch)),
			logger.Int("points", evt.Points))
	}

	f.hook(evt)
	done <- evt.Err
}

// Invalidate makes any in-flight read stale.
func (f *SeriesFetcher) Invalidate() {
	f.mu.Lock()
	f.seq++
	f.mu.Unlock()
}

func (f *SeriesFetcher) State() FetchState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError is the user-facing message of the most recent failed read, or "".
func (f *SeriesFetcher) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}
