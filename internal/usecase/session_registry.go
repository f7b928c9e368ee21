package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/pkg/date"
	"FinWindow/pkg/logger"
)

var ErrSessionNotFound = errors.New("session not found")

type session struct {
	ctrl     *WindowController
	lastSeen atomic.Int64
}

func (s *session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// SessionRegistry owns every open chart session.
type SessionRegistry struct {
	source    domrepo.HistorySource
	cfg       WindowConfig
	idleTTL   time.Duration
	publisher domrepo.WindowEventPublisher
	metrics   domrepo.Metrics
	log       *logger.Logger
	today     func() date.Date
	now       func() time.Time
	onClose   func(id string)

	mu       sync.RWMutex
	sessions map[string]*session
	sched    *cron.Cron
}

type RegistryOption func(*SessionRegistry)

func WithRegistryClock(now func() time.Time, today func() date.Date) RegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.now = now
		}
		if today != nil {
			r.today = today
		}
	}
}

// WithOnClose registers fn to run after a session is closed, whether explicitly, by idle
// eviction or by CloseAll.
func WithOnClose(fn func(id string)) RegistryOption {
	return func(r *SessionRegistry) { r.onClose = fn }
}

func NewSessionRegistry(
	source domrepo.HistorySource,
	cfg WindowConfig,
	idleTTL time.Duration,
	publisher domrepo.WindowEventPublisher,
	metrics domrepo.Metrics,
	log *logger.Logger,
	opts ...RegistryOption,
) *SessionRegistry {
	r := &SessionRegistry{
		source:    source,
		cfg:       cfg,
		idleTTL:   idleTTL,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		today:     date.Today,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onClose == nil {
		r.onClose = func(string) {}
	}
	return r
}

// Open creates a session and runs its initial load. The session stays registered when the
// load fails; the failure is visible in its View and returned here.
func (r *SessionRegistry) Open(ctx context.Context, portfolioID string) (*WindowController, error) {
	id := uuid.NewString()
	ctrl := NewWindowController(portfolioID, r.source, r.cfg,
		WithSessionID(id),
		WithClock(r.today),
		WithPublisher(r.publisher),
		WithMetrics(r.metrics),
		WithLogger(r.log),
	)
	s := &session{ctrl: ctrl}
	s.touch(r.now())

	r.mu.Lock()
	r.sessions[id] = s
	open := len(r.sessions)
	r.mu.Unlock()
	r.metrics.RecordSessions(open)
	r.log.Info("session opened", logger.String("session", id), logger.String("portfolio", portfolioID))

	if err := ctrl.Init(ctx); err != nil {
		return ctrl, fmt.Errorf("initial load: %w", err)
	}
	return ctrl, nil
}

// Get returns the session's controller and marks it active.
func (r *SessionRegistry) Get(id string) (*WindowController, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(r.now())
	return s.ctrl, nil
}

func (r *SessionRegistry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	open := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.ctrl.Close()
	r.onClose(id)
	r.metrics.RecordSessions(open)
	r.log.Info("session closed", logger.String("session", id))
	return nil
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle closes sessions not touched within the idle TTL and returns how many went.
func (r *SessionRegistry) EvictIdle() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL).UnixNano()

	r.mu.Lock()
	idle := make(map[string]*session)
	for id, s := range r.sessions {
		if s.lastSeen.Load() < cutoff {
			idle[id] = s
			delete(r.sessions, id)
		}
	}
	open := len(r.sessions)
	r.mu.Unlock()

	for id, s := range idle {
		s.ctrl.Close()
		r.onClose(id)
	}
	if len(idle) > 0 {
		r.metrics.RecordSessions(open)
		r.log.Info("idle sessions evicted", logger.Int("count", len(idle)), logger.Int("open", open))
	}
	return len(idle)
}

// RefetchPortfolio refetches every session showing portfolioID and returns how many were
// refreshed or queued. A session busy with another read refetches once that read ends.
// Failed refetches are logged and not counted.
func (r *SessionRegistry) RefetchPortfolio(ctx context.Context, portfolioID string) int {
	r.mu.RLock()
	var targets []*WindowController
	for _, s := range r.sessions {
		if s.ctrl.PortfolioID() == portfolioID {
			targets = append(targets, s.ctrl)
		}
	}
	r.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		refreshed atomic.Int64
	)
	for _, ctrl := range targets {
		wg.Add(1)
		go func(ctrl *WindowController) {
			defer wg.Done()
			deferred, err := ctrl.refetchInvalidated(ctx)
			if err != nil {
				r.log.Warn("refetch after invalidation failed",
					logger.String("session", ctrl.SessionID()), logger.Error(err))
				return
			}
			if deferred {
				r.log.Debug("refetch deferred behind in-flight read", logger.String("session", ctrl.SessionID()))
			}
			refreshed.Add(1)
		}(ctrl)
	}
	wg.Wait()
	return int(refreshed.Load())
}

// StartEviction runs EvictIdle on a cron schedule such as "@every 1m".
func (r *SessionRegistry) StartEviction(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.EvictIdle() }); err != nil {
		return fmt.Errorf("schedule eviction %q: %w", schedule, err)
	}
	r.mu.Lock()
	r.sched = c
	r.mu.Unlock()
	c.Start()
	r.log.Info("session eviction scheduled", logger.String("schedule", schedule), logger.Duration("idle_ttl_ms", r.idleTTL))
	return nil
}

// CloseAll stops eviction and closes every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sched := r.sched
	r.sched = nil
	all := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
	for id, s := range all {
		s.ctrl.Close()
		r.onClose(id)
	}
	r.metrics.RecordSessions(0)
}
