package module

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Module is one discovered module: its manifest plus, when the entry loaded,
// its runtime.
type Module struct {
	Manifest Manifest
	Runtime  *Runtime
}

// LoadFailure records a module whose runtime could not be loaded. Discovery
// continues past failures; the worker starts with whatever loaded.
type LoadFailure struct {
	Module string
	Err    error
}

// Registry discovers module manifests under a directory and binds their
// runtime entries.
type Registry struct {
	modulesDir string
	logger     *slog.Logger

	mu      sync.RWMutex
	modules map[string]*Module
	failed  []LoadFailure
	loaded  bool
}

// NewRegistry creates a registry over modulesDir.
func NewRegistry(modulesDir string, logger *slog.Logger) *Registry {
	return &Registry{
		modulesDir: modulesDir,
		logger:     logger,
		modules:    make(map[string]*Module),
	}
}

// ModulesDir returns the root the registry scans.
func (r *Registry) ModulesDir() string { return r.modulesDir }

// Discover enumerates module manifests one directory deep under the modules
// dir and loads each module's runtime entry. Manifests without a runtime are
// kept in the registry with no handlers. A module that fails to parse or
// load is recorded and skipped; discovery itself only fails when the modules
// dir cannot be read.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return fmt.Errorf("registry already discovered")
	}
	r.loaded = true

	if _, err := os.Stat(r.modulesDir); err != nil {
		return fmt.Errorf("modules dir %s: %w", r.modulesDir, err)
	}

	matches, err := doublestar.Glob(os.DirFS(r.modulesDir), "*/"+ManifestFileName)
	if err != nil {
		return fmt.Errorf("scan modules dir %s: %w", r.modulesDir, err)
	}

	for _, rel := range matches {
		path := filepath.Join(r.modulesDir, rel)
		manifest, err := LoadManifest(path)
		if err != nil {
			name := filepath.Dir(rel)
			r.fail(name, fmt.Errorf("load %s: %w", path, err))
			continue
		}

		mod := &Module{Manifest: manifest}
		if manifest.Runtime != nil {
			runtime, err := r.loadRuntime(manifest)
			if err != nil {
				r.fail(manifest.Name, err)
				// Keep the manifest visible so its jobs show up as
				// handler-missing errors instead of silently vanishing.
			} else {
				mod.Runtime = runtime
			}
		}

		if _, dup := r.modules[manifest.Name]; dup {
			r.fail(manifest.Name, fmt.Errorf("duplicate module name %q", manifest.Name))
			continue
		}
		r.modules[manifest.Name] = mod

		r.logger.Info("module discovered",
			"module", manifest.Name,
			"jobs", len(manifest.Jobs),
			"has_runtime", mod.Runtime != nil)
	}

	return nil
}

func (r *Registry) loadRuntime(m Manifest) (*Runtime, error) {
	fn, ok := lookupEntry(m.Runtime.Entry)
	if !ok {
		return nil, fmt.Errorf("module %s: no registered entry %q", m.Name, m.Runtime.Entry)
	}
	runtime, err := fn(m)
	if err != nil {
		return nil, fmt.Errorf("module %s: entry %q: %w", m.Name, m.Runtime.Entry, err)
	}
	return runtime, nil
}

func (r *Registry) fail(name string, err error) {
	r.failed = append(r.failed, LoadFailure{Module: name, Err: err})
	r.logger.Error("module load failed", "module", name, "error", err)
}

// Module returns the named module.
func (r *Registry) Module(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Modules returns all discovered modules.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}

// Failed returns the load failures recorded during discovery.
func (r *Registry) Failed() []LoadFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LoadFailure(nil), r.failed...)
}

// Handler resolves the handler for (module, queue, job). The error describes
// which link of the chain is missing; the dispatcher records it as a per-run
// failure.
func (r *Registry) Handler(moduleName, queue, job string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[moduleName]
	if !ok {
		return nil, fmt.Errorf("module %q is not loaded", moduleName)
	}
	if m.Runtime == nil {
		return nil, fmt.Errorf("module %q has no runtime", moduleName)
	}
	h, ok := m.Runtime.Handler(queue, job)
	if !ok {
		return nil, fmt.Errorf("module %q has no handler for %s/%s", moduleName, queue, job)
	}
	return h, nil
}
