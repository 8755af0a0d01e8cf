package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"boardhealth/internal/classify"
	"boardhealth/internal/config"
	"boardhealth/internal/events"
	"boardhealth/internal/httpapi"
	"boardhealth/internal/ingest"
	"boardhealth/internal/metrics"
	"boardhealth/internal/queue"
	"boardhealth/internal/store"
	"boardhealth/internal/watch"
)

const shutdownTimeout = 15 * time.Second

// App wires the service components together.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	store   *store.Store
	ingest  *ingest.Service
	queue   *queue.Queue
	bus     *events.Bus
	watcher *watch.Watcher
	handler http.Handler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cls, err := classify.New(cfg.Classifier, cfg.ThresholdCutoff)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	bus := events.NewBus()
	svc := ingest.NewService(st, cls, ingest.OptionsFromConfig(cfg), m, log.Named("ingest"))
	svc.SetEvents(bus)
	q := queue.New(cfg.JobQueueSize, cfg.WorkerCount, cfg.JobTimeout(), log.Named("queue"))
	watcher := watch.New(cfg, svc, q, log)
	router := httpapi.NewRouter(cfg, st, svc, q, m, bus, log)
	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		ingest:  svc,
		queue:   q,
		bus:     bus,
		watcher: watcher,
		handler: router.Handler(),
	}, nil
}

// Run starts the worker queue, the inbox watcher and the HTTP server, and
// blocks until ctx is cancelled or the server fails. On shutdown queued
// inbox jobs are drained before the store closes.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	// Workers outlive ctx so Stop can drain; cancelWork interrupts whatever
	// is still running once the drain window is over.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	a.queue.Start(workCtx)
	if err := a.watcher.Start(ctx); err != nil {
		a.stopQueue(cancelWork)
		return fmt.Errorf("start watcher: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(a.bus.Close)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", zap.String("addr", a.cfg.HTTPPort), zap.String("classifier", a.ingest.Classifier().Name()))
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	a.stopQueue(cancelWork)
	a.log.Info("shutdown complete")
	return runErr
}

func (a *App) stopQueue(cancelWork context.CancelFunc) {
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	a.queue.Stop(drainCtx)
	timedOut := drainCtx.Err() != nil
	cancel()
	if !timedOut {
		return
	}
	a.log.Warn("queue drain timed out, interrupting running jobs")
	cancelWork()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.queue.Stop(waitCtx)
}

func (a *App) Handler() http.Handler { return a.handler }
func (a *App) Store() *store.Store    { return a.store }
