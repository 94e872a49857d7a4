package module

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/settings"
	"github.com/feedeater/feedeater/wire"
)

// Queue is the in-process enqueue shim. Add publishes a job-run event with an
// internal event trigger; the dispatcher picks it up like any other.
type Queue interface {
	Add(ctx context.Context, jobName string, data map[string]any) error
}

// QueueFactory builds the queue shim for a (module, queue) pair. The
// dispatcher owns the implementation.
type QueueFactory func(moduleName, queueName string) Queue

// ExecContext is the uniform execution context granted to a handler for the
// duration of one job run. The DB pool gives the module read/write access to
// its own mod_<name>.* schema; the worker-owned tables are written only by
// the worker.
type ExecContext struct {
	ModuleName string
	ModulesDir string

	DB    *pgxpool.Pool
	Bus   bus.Publisher
	Codec wire.Codec

	settings settings.Fetcher
	queues   QueueFactory
}

// NewExecContext assembles an execution context. settings and queues may be
// nil in tests that do not exercise those paths.
func NewExecContext(moduleName, modulesDir string, db *pgxpool.Pool, pub bus.Publisher, fetcher settings.Fetcher, queues QueueFactory) *ExecContext {
	return &ExecContext{
		ModuleName: moduleName,
		ModulesDir: modulesDir,
		DB:         db,
		Bus:        pub,
		settings:   fetcher,
		queues:     queues,
	}
}

// FetchInternalSettings retrieves another module's settings (commonly the
// handler's own) from the settings service.
func (ec *ExecContext) FetchInternalSettings(ctx context.Context, moduleName string) (settings.Values, error) {
	return ec.settings.Fetch(ctx, moduleName)
}

// GetQueue returns the enqueue shim for the named queue.
func (ec *ExecContext) GetQueue(name string) Queue {
	return ec.queues(ec.ModuleName, name)
}
