// Package module implements discovery and loading of feedeater ingestion
// modules. A module is a directory under the modules dir holding a
// module.json manifest; its runtime entry names a compiled-in factory
// registered via RegisterEntry.
package module

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/feedeater/feedeater/wire"
)

// ManifestFileName is the manifest file each module directory must contain.
const ManifestFileName = "module.json"

var validate = validator.New(validator.WithRequiredStructEnabled())

// JobSpec declares one job a module offers. Schedule and TriggeredBy are
// optional; a job may have both, either, or neither (queue-only jobs are
// reachable through the in-process queue shim or manual triggers).
type JobSpec struct {
	Name        string `json:"name" validate:"required"`
	Queue       string `json:"queue" validate:"required"`
	Schedule    string `json:"schedule,omitempty"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// RuntimeSpec names the compiled-in entry implementing the module's handlers.
type RuntimeSpec struct {
	Entry string `json:"entry" validate:"required"`
}

// Manifest is the read-only module declaration. (module, queue, job) is the
// unique handler key across the registry.
type Manifest struct {
	Name    string       `json:"name" validate:"required"`
	Jobs    []JobSpec    `json:"jobs" validate:"dive"`
	Runtime *RuntimeSpec `json:"runtime,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	var codec wire.Codec
	if err := codec.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	if err := validate.Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("validate manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Jobs))
	for _, j := range m.Jobs {
		key := j.Queue + "/" + j.Name
		if _, dup := seen[key]; dup {
			return Manifest{}, fmt.Errorf("duplicate job %s in module %s", key, m.Name)
		}
		seen[key] = struct{}{}
	}

	return m, nil
}
