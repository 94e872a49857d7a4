package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc/pool"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/settings"
	"github.com/feedeater/feedeater/store"
	"github.com/feedeater/feedeater/wire"
)

// maxConcurrentRuns bounds handler parallelism. Deliveries beyond the bound
// wait; the bus buffers.
const maxConcurrentRuns = 16

// RunRecorder persists the run lifecycle. store.Store is the production
// implementation.
type RunRecorder interface {
	StartRun(ctx context.Context, start store.RunStart) error
	FinishSuccess(ctx context.Context, runID, module, job string, finishedAt time.Time, metricsJSON []byte) error
	FinishError(ctx context.Context, runID, module, job string, finishedAt time.Time, runErr string) error
}

// HandlerSource resolves handlers for incoming events. module.Registry is the
// production implementation.
type HandlerSource interface {
	Handler(moduleName, queue, job string) (module.Handler, error)
	ModulesDir() string
}

// Dispatcher subscribes to the job-run wildcard and executes each event:
// decode, record the running row, resolve the handler, invoke it with panic
// recovery, and record the terminal state. Every run reaches exactly one
// terminal status; lifecycle persistence failures are logged and never stop
// the handler.
type Dispatcher struct {
	bus      bus.Bus
	registry HandlerSource
	runs     RunRecorder
	db       *pgxpool.Pool
	settings settings.Fetcher
	codec    wire.Codec
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	pool *pool.Pool
	sub  bus.Subscription
}

// New assembles a dispatcher. db and fetcher are passed through to handler
// execution contexts and may be nil in tests.
func New(b bus.Bus, registry HandlerSource, runs RunRecorder, db *pgxpool.Pool, fetcher settings.Fetcher, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      b,
		registry: registry,
		runs:     runs,
		db:       db,
		settings: fetcher,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		pool:     pool.New().WithMaxGoroutines(maxConcurrentRuns),
	}
}

// Start subscribes to the job-run wildcard. Each delivery executes on the
// worker pool; ctx bounds handler execution.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.bus.Subscribe(bus.SubjectJobsWildcard, func(subject string, data []byte) {
		d.pool.Go(func() { d.execute(ctx, subject, data) })
	})
	if err != nil {
		return err
	}
	d.sub = sub
	d.logger.Info("dispatcher started",
		"subject", bus.SubjectJobsWildcard, "max_concurrent", maxConcurrentRuns)
	return nil
}

// Stop cancels the subscription and waits for in-flight runs to finish.
func (d *Dispatcher) Stop() {
	if d.sub != nil {
		_ = d.sub.Unsubscribe()
	}
	d.pool.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, subject string, data []byte) {
	var ev wire.JobRunEvent
	if err := d.codec.Unmarshal(data, &ev); err != nil {
		d.metrics.eventsDropped.Inc()
		d.logger.Error("dispatcher: undecodable job event", "subject", subject, "error", err)
		return
	}
	if err := ev.Validate(); err != nil {
		d.metrics.eventsDropped.Inc()
		d.logger.Error("dispatcher: invalid job event", "subject", subject, "error", err)
		return
	}
	if ev.RunID == "" {
		ev.RunID = uuid.NewString()
	}

	// Lifecycle rows must still be written when the run context is cancelled
	// while shutdown drains in-flight handlers.
	dbCtx := context.WithoutCancel(ctx)

	startedAt := d.now().UTC()
	triggerJSON, err := d.codec.Marshal(ev.Trigger)
	if err != nil {
		triggerJSON = nil
	}
	if err := d.runs.StartRun(dbCtx, store.RunStart{
		RunID:       ev.RunID,
		Module:      ev.Module,
		Queue:       ev.Queue,
		Job:         ev.Job,
		TriggerType: ev.Trigger.Type,
		TriggerJSON: triggerJSON,
		StartedAt:   startedAt,
	}); err != nil {
		d.logger.Error("dispatcher: record run start",
			"runId", ev.RunID, "module", ev.Module, "job", ev.Job, "error", err)
	}
	d.metrics.runsStarted.WithLabelValues(ev.Module, ev.Queue, ev.Job).Inc()

	handler, err := d.registry.Handler(ev.Module, ev.Queue, ev.Job)
	if err != nil {
		d.finishError(dbCtx, ev, err.Error())
		return
	}

	ec := module.NewExecContext(ev.Module, d.registry.ModulesDir(), d.db, d.bus, d.settings, d.queueFor)
	result, runErr := d.invoke(ctx, handler, ec, ev)
	duration := d.now().UTC().Sub(startedAt)

	if runErr != nil {
		d.finishError(dbCtx, ev, runErr.Error())
		return
	}

	runMetrics := make(map[string]any)
	if result != nil {
		for k, v := range result.Metrics {
			runMetrics[k] = v
		}
	}
	runMetrics["durationMs"] = duration.Milliseconds()
	metricsJSON, err := d.codec.Marshal(runMetrics)
	if err != nil {
		metricsJSON = nil
	}

	if err := d.runs.FinishSuccess(dbCtx, ev.RunID, ev.Module, ev.Job, d.now().UTC(), metricsJSON); err != nil {
		d.logger.Error("dispatcher: record run success",
			"runId", ev.RunID, "module", ev.Module, "job", ev.Job, "error", err)
	}
	d.metrics.runsSucceeded.WithLabelValues(ev.Module, ev.Queue, ev.Job).Inc()
	d.metrics.runDuration.WithLabelValues(ev.Module, ev.Queue, ev.Job).Observe(duration.Seconds())
	d.logger.Info("job run succeeded",
		"runId", ev.RunID, "module", ev.Module, "queue", ev.Queue, "job", ev.Job,
		"duration_ms", duration.Milliseconds())
}

// invoke runs the handler, converting a panic into an error so the run still
// reaches a terminal state.
func (d *Dispatcher) invoke(ctx context.Context, h module.Handler, ec *module.ExecContext, ev wire.JobRunEvent) (result *module.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, ec, module.JobInput{Name: ev.Job, ID: ev.RunID, Data: ev.Data})
}

func (d *Dispatcher) finishError(ctx context.Context, ev wire.JobRunEvent, runErr string) {
	if err := d.runs.FinishError(ctx, ev.RunID, ev.Module, ev.Job, d.now().UTC(), runErr); err != nil {
		d.logger.Error("dispatcher: record run error",
			"runId", ev.RunID, "module", ev.Module, "job", ev.Job, "error", err)
	}
	d.metrics.runsFailed.WithLabelValues(ev.Module, ev.Queue, ev.Job).Inc()
	d.logger.Error("job run failed",
		"runId", ev.RunID, "module", ev.Module, "queue", ev.Queue, "job", ev.Job,
		"error", runErr)
}
