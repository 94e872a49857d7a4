package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedeater/feedeater/archive"
	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/config"
	"github.com/feedeater/feedeater/dispatch"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/settings"
	"github.com/feedeater/feedeater/store"
)

// App wires the worker together and owns the component lifecycle. Boot order
// matters: the archiver subscribes before replay runs, and every job producer
// starts only after the dispatcher is listening.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	conn     *bus.Conn
	store    *store.Store
	settings *settings.Client
	registry *module.Registry

	promReg *prometheus.Registry
	metrics *dispatch.Metrics

	archiver   *archive.Archiver
	upserter   *archive.Upserter
	dispatcher *dispatch.Dispatcher
	schedules  *dispatch.Schedules
	triggers   *dispatch.Triggers

	httpSrv *http.Server
	ready   atomic.Bool
}

// NewApp creates an application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		cfg:     cfg,
		logger:  logger,
		promReg: promReg,
		metrics: dispatch.NewMetrics(promReg),
	}
}

// Start brings every component up. Any error here is a fatal boot failure;
// after Start returns nil, subscription-level failures are logged but never
// take the worker down.
func (a *App) Start(ctx context.Context) error {
	conn, err := bus.Connect(a.cfg.NATSURL, appName)
	if err != nil {
		return err
	}
	a.conn = conn

	// Mirror every log record onto feedeater.worker.log.
	a.logger = slog.New(bus.NewLogHandler(a.logger.Handler(), conn))
	slog.SetDefault(a.logger)

	st, err := store.Open(ctx, a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return err
	}
	a.store = st

	a.settings = settings.NewClient(a.cfg.APIBaseURL, a.cfg.InternalToken, a.logger)
	sys, err := a.settings.Fetch(ctx, settings.SystemModule)
	if err != nil {
		return fmt.Errorf("fetch system settings: %w", err)
	}
	embedDim := effectiveEmbedDim(sys, a.cfg.EmbedDim)
	window := time.Duration(sys.HistoryMinutes()) * time.Minute

	st.EnsureSchema(ctx)
	st.EnsureVector(ctx, embedDim)

	a.archiver = archive.NewArchiver(conn, st, a.logger)
	if err := a.archiver.Start(ctx); err != nil {
		return fmt.Errorf("start archiver: %w", err)
	}

	a.registry = module.NewRegistry(a.cfg.ModulesDir, a.logger)
	if err := a.registry.Discover(); err != nil {
		return err
	}
	go func() {
		if err := module.Watch(ctx, a.cfg.ModulesDir, a.logger); err != nil {
			a.logger.Warn("modules dir watch unavailable", "error", err)
		}
	}()

	a.dispatcher = dispatch.New(conn, a.registry, st, st.Pool(), a.settings, a.metrics, a.logger)
	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	a.schedules, err = dispatch.StartSchedules(ctx, conn, a.registry.Modules(), a.logger)
	if err != nil {
		return err
	}
	a.triggers, err = dispatch.StartTriggers(ctx, conn, a.registry.Modules(), a.logger)
	if err != nil {
		return err
	}

	a.upserter = archive.NewUpserter(conn, st, embedDim, a.logger)
	if err := a.upserter.Start(ctx); err != nil {
		return fmt.Errorf("start context upserter: %w", err)
	}

	// Replay runs after every subscriber is attached. A failed replay costs
	// history, not liveness.
	replayer := archive.NewReplayer(st, conn, window, a.logger)
	if err := replayer.Run(ctx); err != nil {
		a.logger.Error("startup replay failed", "error", err)
	}

	a.startHTTP()
	a.ready.Store(true)

	a.logger.Info("feedeater ready",
		"version", Version,
		"modules", len(a.registry.Modules()),
		"load_failures", len(a.registry.Failed()),
		"embed_dim", embedDim,
		"history_window", window)
	return nil
}

// effectiveEmbedDim resolves the embedding dimension: the system setting
// wins when it is a positive integer, anything else falls back to the
// configured value.
func effectiveEmbedDim(sys settings.Values, fallback int) int {
	if n := sys.Int(settings.KeyEmbedDim, fallback); n > 0 {
		return n
	}
	return fallback
}

func (a *App) startHTTP() {
	a.httpSrv = &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http listener failed", "addr", a.cfg.HTTPAddr, "error", err)
		}
	}()
	a.logger.Info("http listener started", "addr", a.cfg.HTTPAddr)
}

func (a *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	return mux
}

// Shutdown stops components in reverse dependency order: job producers
// first, then the dispatcher (waiting for in-flight runs up to timeout),
// then the subscribers, transport, and store.
func (a *App) Shutdown(timeout time.Duration) {
	a.ready.Store(false)

	if a.schedules != nil {
		a.schedules.Stop()
	}
	if a.triggers != nil {
		a.triggers.Stop()
	}

	if a.dispatcher != nil {
		done := make(chan struct{})
		go func() {
			a.dispatcher.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			a.logger.Warn("shutdown timed out waiting for in-flight runs", "timeout", timeout)
		}
	}

	if a.upserter != nil {
		a.upserter.Stop()
	}
	if a.archiver != nil {
		a.archiver.Stop()
	}

	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = a.httpSrv.Shutdown(ctx)
	}

	if a.conn != nil {
		a.conn.Close()
	}
	if a.store != nil {
		a.store.Close()
	}

	a.logger.Info("feedeater stopped")
}
