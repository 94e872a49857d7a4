package module

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the modules dir for manifest changes and logs them. Runtimes
// load once per process, so a change only takes effect after a restart; the
// log line is the operator's cue. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, modulesDir string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(modulesDir); err != nil {
		return err
	}
	// Immediate subdirectories hold the manifests.
	dirEntries, err := os.ReadDir(modulesDir)
	if err != nil {
		return err
	}
	for _, e := range dirEntries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(modulesDir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if filepath.Base(ev.Name) == ManifestFileName &&
				(ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write)) {
				logger.Info("module manifest changed, restart to apply",
					"path", ev.Name, "op", ev.Op.String())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("modules dir watch error", "error", err)
		}
	}
}
