package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FinWindow/internal/usecase"
	"FinWindow/pkg/config"
	xhttp "FinWindow/pkg/http"
	pkgkafka "FinWindow/pkg/kafka"
	applogger "FinWindow/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	registry   *usecase.SessionRegistry
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	collector  *applogger.CollectionConfig
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server, registry *usecase.SessionRegistry) *App {
	return &App{
		cfg:        cfg,
		l:          l,
		httpServer: httpServer,
		registry:   registry,
	}
}

// SetConsumer attaches the invalidation consumer and its handler.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetLogCollector ships aggregated error logs while the app runs.
func (a *App) SetLogCollector(cfg *applogger.CollectionConfig) { a.collector = cfg }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start launches every component without blocking.
func (a *App) Start() error {
	if a.collector != nil {
		a.l.AddCollector(a.collector)
		a.l.Info("log collector enabled", applogger.String("topic", a.collector.Topic))
	}

	if err := a.registry.StartEviction(a.cfg.Window.EvictSchedule); err != nil {
		a.l.Error("session eviction schedule error", applogger.Error(err))
		return err
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer error", applogger.Error(err))
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("finwindow started",
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.String("cache", a.cfg.Cache.Type),
		applogger.Int("default_window_days", a.cfg.Window.DefaultWindowDays))
	return nil
}

// Shutdown stops accepting requests, then closes sessions and the consumer. Infrastructure
// clients are closed by the DI cleanup afterwards.
func (a *App) Shutdown(ctx context.Context) error {
	a.l.Info("shutting down...")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		if err := a.consumer.Stop(stopCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}

	a.registry.CloseAll()

	if a.collector != nil {
		a.l.RemoveCollector()
	}
	a.l.Info("shutdown complete")
	return nil
}
