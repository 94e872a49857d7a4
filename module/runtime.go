package module

import (
	"context"
	"fmt"
	"sync"
)

// JobInput is what a handler receives for one run.
type JobInput struct {
	// Name is the job name from the manifest.
	Name string
	// ID is the run id.
	ID string
	// Data is the free-form payload forwarded by the trigger, if any.
	Data map[string]any
}

// Result is what a handler may return on success.
type Result struct {
	// Metrics is merged with the dispatcher's own measurements and
	// persisted on the run row.
	Metrics map[string]any
}

// Handler executes one job run. Returned errors (and panics, which the
// dispatcher recovers) mark the run as failed.
type Handler func(ctx context.Context, ec *ExecContext, job JobInput) (*Result, error)

// Runtime is a module's handler table keyed by queue then job name.
type Runtime struct {
	handlers map[string]map[string]Handler
}

// NewRuntime creates an empty runtime. Entries populate it with Handle.
func NewRuntime() *Runtime {
	return &Runtime{handlers: make(map[string]map[string]Handler)}
}

// Handle registers a handler for (queue, job) and returns the runtime so
// registrations chain.
func (r *Runtime) Handle(queue, job string, h Handler) *Runtime {
	byJob, ok := r.handlers[queue]
	if !ok {
		byJob = make(map[string]Handler)
		r.handlers[queue] = byJob
	}
	byJob[job] = h
	return r
}

// Handler looks up the handler for (queue, job).
func (r *Runtime) Handler(queue, job string) (Handler, bool) {
	byJob, ok := r.handlers[queue]
	if !ok {
		return nil, false
	}
	h, ok := byJob[job]
	return h, ok
}

// EntryFunc builds a module's runtime from its manifest. Entries run at most
// once per module per process.
type EntryFunc func(m Manifest) (*Runtime, error)

var (
	entriesMu sync.RWMutex
	entries   = make(map[string]EntryFunc)
)

// RegisterEntry makes a runtime factory available under name. Modules call
// this from init(); registering the same name twice panics, matching the
// behavior of duplicate flag or driver registration.
func RegisterEntry(name string, fn EntryFunc) {
	entriesMu.Lock()
	defer entriesMu.Unlock()
	if _, dup := entries[name]; dup {
		panic(fmt.Sprintf("module: entry %q registered twice", name))
	}
	entries[name] = fn
}

func lookupEntry(name string) (EntryFunc, bool) {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	fn, ok := entries[name]
	return fn, ok
}
