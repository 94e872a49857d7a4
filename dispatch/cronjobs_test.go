package dispatch

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

func scheduledModule(name, queue, job, schedule string) *module.Module {
	return &module.Module{Manifest: module.Manifest{
		Name: name,
		Jobs: []module.JobSpec{{Name: job, Queue: queue, Schedule: schedule}},
	}}
}

func TestStartSchedulesBindsValidExpressions(t *testing.T) {
	mem := bus.NewMemory()
	mods := []*module.Module{
		scheduledModule("kalshi", "mod_kalshi", "collect", "*/5 * * * *"),
		scheduledModule("reddit", "mod_reddit", "scan", "30 * * * *"),
		// Jobs without a schedule are skipped.
		triggeredModule("digester", "mod_digester", "summarize", "feedeater.system.tick"),
	}

	s, err := StartSchedules(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer s.Stop()

	assert.Len(t, s.stops, 2)
}

func TestStartSchedulesRejectsInvalidExpression(t *testing.T) {
	mem := bus.NewMemory()
	mods := []*module.Module{
		scheduledModule("kalshi", "mod_kalshi", "collect", "*/5 * * * *"),
		scheduledModule("reddit", "mod_reddit", "scan", "0 12 * * MON"),
	}

	_, err := StartSchedules(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reddit")
	assert.Contains(t, err.Error(), "scan")
}

func TestEmitJobRunStampsDefaults(t *testing.T) {
	mem := bus.NewMemory()
	got := captureJobRuns(t, mem)

	var codec wire.Codec
	require.NoError(t, emitJobRun(context.Background(), mem, codec, wire.JobRunEvent{
		Module: "kalshi", Queue: "mod_kalshi", Job: "collect",
		Trigger: wire.Trigger{Type: wire.TriggerSchedule},
	}))

	events := got()
	require.Len(t, events, 1)
	assert.Equal(t, wire.TypeJobRun, events[0].Type)
	assert.False(t, events[0].RequestedAt.IsZero())
}

func TestSchedulesStopIsIdempotent(t *testing.T) {
	mem := bus.NewMemory()
	mods := []*module.Module{
		scheduledModule("kalshi", "mod_kalshi", "collect", "* * * * *"),
	}
	s, err := StartSchedules(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	s.Stop()
	s.Stop()
}
