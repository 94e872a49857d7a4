package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/cron"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

// Schedules binds manifest cron expressions to the bus: each tick publishes a
// job-run event with a schedule trigger.
type Schedules struct {
	logger *slog.Logger
	stops  []func()
}

// StartSchedules validates and binds every scheduled job across the given
// modules. Any invalid expression fails the whole call; schedules bound so
// far are stopped.
func StartSchedules(ctx context.Context, pub bus.Publisher, modules []*module.Module, logger *slog.Logger) (*Schedules, error) {
	var codec wire.Codec
	s := &Schedules{logger: logger}

	for _, m := range modules {
		moduleName := m.Manifest.Name
		for _, j := range m.Manifest.Jobs {
			if j.Schedule == "" {
				continue
			}
			if err := cron.Validate(j.Schedule); err != nil {
				s.Stop()
				return nil, fmt.Errorf("module %s job %s: %w", moduleName, j.Name, err)
			}

			job := j
			stop := cron.Schedule(j.Schedule, func(at time.Time) error {
				return emitJobRun(ctx, pub, codec, wire.JobRunEvent{
					Module:      moduleName,
					Queue:       job.Queue,
					Job:         job.Name,
					RequestedAt: at.UTC(),
					Trigger:     wire.Trigger{Type: wire.TriggerSchedule},
				})
			}, func(err error) {
				logger.Error("schedule tick failed",
					"module", moduleName, "job", job.Name, "error", err)
			})
			s.stops = append(s.stops, stop)

			logger.Info("schedule bound",
				"module", moduleName, "job", j.Name, "schedule", j.Schedule)
		}
	}
	return s, nil
}

// Stop cancels every bound schedule.
func (s *Schedules) Stop() {
	for _, stop := range s.stops {
		stop()
	}
}
