package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/pkg/date"
	"FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
)

var (
	// ErrFetchInFlight is returned when an operation's fetch was dropped by the
	// single-flight guard.
	ErrFetchInFlight    = errors.New("fetch already in flight")
	ErrControllerClosed = errors.New("controller closed")
	ErrInvalidRange     = errors.New("start date is after end date")
)

const defaultPublishTimeout = 5 * time.Second

// WindowConfig holds the per-chart tunables.
type WindowConfig struct {
	DefaultWindowDays int
	Debounce          time.Duration
}

// WindowController is the public surface for one chart: it owns the series store, the
// fetcher, the boundary monitor and the zoom debouncer.
type WindowController struct {
	sessionID   string
	portfolioID string
	cfg         WindowConfig
	today       func() date.Date
	publisher   domrepo.WindowEventPublisher
	metrics     domrepo.Metrics
	log         *logger.Logger

	store    *SeriesStore
	fetcher  *SeriesFetcher
	monitor  *BoundaryMonitor
	debounce *Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// set when the backend data changed and no fresh read has started since
	stale atomic.Bool

	initOnce sync.Once
	initErr  error

	subMu   sync.Mutex
	subs    map[uint64]chan models.View
	nextSub uint64
}

type ControllerOption func(*WindowController)

// WithClock replaces the local-date source used for the initial window and the forward cap.
func WithClock(today func() date.Date) ControllerOption {
	return func(c *WindowController) { c.today = today }
}

func WithSessionID(id string) ControllerOption {
	return func(c *WindowController) { c.sessionID = id }
}

func WithPublisher(p domrepo.WindowEventPublisher) ControllerOption {
	return func(c *WindowController) { c.publisher = p }
}

func WithMetrics(m domrepo.Metrics) ControllerOption {
	return func(c *WindowController) { c.metrics = m }
}

func WithLogger(l *logger.Logger) ControllerOption {
	return func(c *WindowController) { c.log = l }
}

func NewWindowController(portfolioID string, source domrepo.HistorySource, cfg WindowConfig, opts ...ControllerOption) *WindowController {
	c := &WindowController{
		portfolioID: portfolioID,
		cfg:         cfg,
		today:       date.Today,
		metrics:     metrics.Nop{},
		log:         logger.Nop(),
		subs:        make(map[uint64]chan models.View),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("session", c.sessionID), logger.String("portfolio", portfolioID))
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.store = NewSeriesStore()
	c.fetcher = NewSeriesFetcher(portfolioID, source, c.store, c.metrics, c.log, c.onFetchEvent)
	c.monitor = NewBoundaryMonitor(cfg.DefaultWindowDays, c.today)
	c.debounce = NewDebouncer(cfg.Debounce)
	return c
}

func (c *WindowController) SessionID() string   { return c.sessionID }
func (c *WindowController) PortfolioID() string { return c.portfolioID }

// InitialWindow is [today - DefaultWindowDays, today].
func (c *WindowController) InitialWindow() models.DateRange {
	today := c.today()
	return models.DateRange{Start: today.Add(-c.cfg.DefaultWindowDays), End: today}
}

// Init performs the initial load. Only the first call fetches; later calls return nil.
func (c *WindowController) Init(ctx context.Context) error {
	ran := false
	c.initOnce.Do(func() {
		ran = true
		c.initErr = c.load(ctx, c.windowRequest(c.InitialWindow(), "initial"))
	})
	if !ran {
		return nil
	}
	return c.initErr
}

// OnZoomChange records a zoom report; the boundary check runs once reports stop arriving
// for the debounce delay.
func (c *WindowController) OnZoomChange(z models.ZoomState) {
	if c.closed.Load() {
		return
	}
	c.debounce.Trigger(func() { c.checkBoundaries(z) })
}

func (c *WindowController) checkBoundaries(z models.ZoomState) {
	n, loaded, total := c.store.Bounds()
	reqs := c.monitor.Check(z, n, loaded, total)
	for _, req := range reqs {
		if c.closed.Load() {
			return
		}
		// fire and forget; a second edge is dropped while the first is in flight
		c.fetcher.Fetch(c.ctx, req)
	}
}

// LoadDateRange replaces the loaded series with [start, end].
func (c *WindowController) LoadDateRange(ctx context.Context, start, end date.Date) error {
	if start.After(end) {
		return ErrInvalidRange
	}
	return c.load(ctx, FetchRequest{Start: &start, End: &end, Mode: MergeReplace, Reason: "range"})
}

// ExtendDateRange merges [start, end] into the loaded series.
func (c *WindowController) ExtendDateRange(ctx context.Context, start, end date.Date) error {
	if start.After(end) {
		return ErrInvalidRange
	}
	return c.load(ctx, FetchRequest{Start: &start, End: &end, Mode: MergeAppend, Reason: "extend"})
}

// ResetToInitialRange reloads the default window, dropping every extension.
func (c *WindowController) ResetToInitialRange(ctx context.Context) error {
	return c.load(ctx, c.windowRequest(c.InitialWindow(), "reset"))
}

// LoadAllData fetches the whole dataset unless it is already loaded.
func (c *WindowController) LoadAllData(ctx context.Context) error {
	if c.store.TotalRange().Complete {
		return nil
	}
	return c.load(ctx, FetchRequest{Mode: MergeReplace, MarkComplete: true, Reason: "all"})
}

// Refetch reloads the current loaded range, or the initial window when nothing is loaded,
// bypassing the response cache.
func (c *WindowController) Refetch(ctx context.Context) error {
	var req FetchRequest
	_, loaded, total := c.store.Bounds()
	switch {
	case total.Complete:
		req = FetchRequest{Mode: MergeReplace, MarkComplete: true}
	case loaded != nil:
		req = c.windowRequest(*loaded, "")
	default:
		req = c.windowRequest(c.InitialWindow(), "")
	}
	req.Reason = "refetch"
	req.Fresh = true
	return c.load(ctx, req)
}

// refetchInvalidated marks the loaded data stale and refetches it. When another read is
// in flight the refetch is deferred to that read's completion and deferred is true.
func (c *WindowController) refetchInvalidated(ctx context.Context) (deferred bool, err error) {
	c.stale.Store(true)
	for c.stale.Load() && !c.closed.Load() {
		err = c.Refetch(ctx)
		if !errors.Is(err, ErrFetchInFlight) {
			return false, err
		}
		// the running read retries on completion unless it finished in between
		if c.fetcher.State() == FetchLoading {
			return true, nil
		}
	}
	return false, nil
}

func (c *WindowController) windowRequest(r models.DateRange, reason string) FetchRequest {
	return FetchRequest{Start: datePtr(r.Start), End: datePtr(r.End), Mode: MergeReplace, Reason: reason}
}

// load starts req and waits for it. The read itself belongs to the controller lifecycle,
// so ctx only bounds the wait.
func (c *WindowController) load(ctx context.Context, req FetchRequest) error {
	if c.closed.Load() {
		return ErrControllerClosed
	}
	done, ok := c.fetcher.Fetch(c.ctx, req)
	if !ok {
		return ErrFetchInFlight
	}
	select {
	case err := <-done:
		if errors.Is(err, ErrFetchSuperseded) && c.closed.Load() {
			return ErrControllerClosed
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", req.Reason, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View is the current read model for the chart.
func (c *WindowController) View() models.View {
	series, loaded, total := c.store.Snapshot()
	return models.View{
		Data:        series,
		Loading:     c.fetcher.State() == FetchLoading,
		Error:       c.fetcher.LastError(),
		LoadedRange: loaded,
		TotalRange:  total,
	}
}

// Subscribe returns a channel that receives the current View immediately and then after
// every state change. Slow readers only ever see the latest View. The channel is closed
// by the returned cancel func or by Close.
func (c *WindowController) Subscribe() (<-chan models.View, func()) {
	ch := make(chan models.View, 1)
	ch <- c.View()

	c.subMu.Lock()
	if c.closed.Load() {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *WindowController) notify() {
	v := c.View()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (c *WindowController) onFetchEvent(evt FetchEvent) {
	switch evt.Phase {
	case FetchStarted:
		if evt.Request.Fresh {
			c.stale.Store(false)
		}
	case FetchApplied, FetchFailed:
		if c.stale.Load() && !c.closed.Load() {
			go func() {
				if _, err := c.refetchInvalidated(c.ctx); err != nil && !c.closed.Load() {
					c.log.Warn("deferred refetch failed", logger.Error(err))
				}
			}()
		}
	}
	c.notify()
	if evt.Phase != FetchApplied || c.publisher == nil {
		return
	}
	msg := models.WindowEvent{
		SessionID:      c.sessionID,
		PortfolioID:    c.portfolioID,
		Mode:           string(evt.Request.Mode),
		RequestedStart: evt.Request.Start,
		RequestedEnd:   evt.Request.End,
		LoadedRange:    c.store.LoadedRange(),
		Points:         evt.Points,
		Fetched:        evt.Fetched,
		At:             time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		defer cancel()
		if err := c.publisher.PublishWindowChanged(ctx, msg); err != nil {
			c.metrics.RecordError("publish_window_event")
			c.log.Warn("failed to publish window event", logger.Error(err))
		}
	}()
}

// Close stops pending zoom work, cancels any in-flight read and closes subscriptions.
// It is safe to call more than once.
func (c *WindowController) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.debounce.Stop()
	c.fetcher.Invalidate()
	c.cancel()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
}
