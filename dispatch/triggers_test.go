package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

func triggeredModule(name, queue, job, triggeredBy string) *module.Module {
	return &module.Module{Manifest: module.Manifest{
		Name: name,
		Jobs: []module.JobSpec{{Name: job, Queue: queue, TriggeredBy: triggeredBy}},
	}}
}

func captureJobRuns(t *testing.T, mem *bus.Memory) func() []wire.JobRunEvent {
	t.Helper()
	var mu sync.Mutex
	var got []wire.JobRunEvent
	_, err := mem.Subscribe(bus.SubjectJobsWildcard, func(_ string, data []byte) {
		var ev wire.JobRunEvent
		var codec wire.Codec
		require.NoError(t, codec.Unmarshal(data, &ev))
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	return func() []wire.JobRunEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]wire.JobRunEvent(nil), got...)
	}
}

func TestTriggerBridgePublishesJobRun(t *testing.T) {
	mem := bus.NewMemory()
	got := captureJobRuns(t, mem)

	mods := []*module.Module{
		triggeredModule("digester", "mod_digester", "summarize", bus.MessageCreatedSubject("kalshi")),
	}
	tr, err := StartTriggers(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer tr.Stop()

	msg := wire.NormalizedMessage{
		ID:        "m-1",
		CreatedAt: time.Now().UTC(),
		Source:    wire.MessageSource{Module: "kalshi"},
	}
	var codec wire.Codec
	data, err := codec.Marshal(wire.Envelope(msg))
	require.NoError(t, err)
	require.NoError(t, mem.Publish(context.Background(), bus.MessageCreatedSubject("kalshi"), data))

	events := got()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, wire.TypeJobRun, ev.Type)
	assert.Equal(t, "digester", ev.Module)
	assert.Equal(t, "mod_digester", ev.Queue)
	assert.Equal(t, "summarize", ev.Job)
	assert.Equal(t, wire.TriggerEvent, ev.Trigger.Type)
	assert.Equal(t, bus.MessageCreatedSubject("kalshi"), ev.Trigger.Subject)
	assert.Equal(t, "m-1", ev.Trigger.MessageID)
	assert.False(t, ev.RequestedAt.IsZero())

	trigger, ok := ev.Data["trigger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, bus.MessageCreatedSubject("kalshi"), trigger["subject"])
	assert.Equal(t, "m-1", trigger["messageId"])
}

func TestTriggerBridgeNonMessagePayload(t *testing.T) {
	mem := bus.NewMemory()
	got := captureJobRuns(t, mem)

	mods := []*module.Module{
		triggeredModule("digester", "mod_digester", "summarize", "feedeater.system.tick"),
	}
	tr, err := StartTriggers(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer tr.Stop()

	require.NoError(t, mem.Publish(context.Background(), "feedeater.system.tick", []byte(`{"hello":"world"}`)))

	events := got()
	require.Len(t, events, 1)
	assert.Equal(t, wire.TriggerEvent, events[0].Trigger.Type)
	assert.Empty(t, events[0].Trigger.MessageID, "non-message payloads still trigger, without a message id")
}

func TestTriggerBridgeStopsDeliveries(t *testing.T) {
	mem := bus.NewMemory()
	got := captureJobRuns(t, mem)

	mods := []*module.Module{
		triggeredModule("digester", "mod_digester", "summarize", "feedeater.system.tick"),
	}
	tr, err := StartTriggers(context.Background(), mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	tr.Stop()
	require.NoError(t, mem.Publish(context.Background(), "feedeater.system.tick", []byte(`{}`)))
	assert.Empty(t, got())
}

func TestTriggerBridgeFeedsDispatcher(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var got module.JobInput
	h.reg.handle("digester", "mod_digester", "summarize", func(_ context.Context, _ *module.ExecContext, job module.JobInput) (*module.Result, error) {
		mu.Lock()
		got = job
		mu.Unlock()
		return nil, nil
	})

	mods := []*module.Module{
		triggeredModule("digester", "mod_digester", "summarize", bus.MessageCreatedSubject("reddit")),
	}
	tr, err := StartTriggers(context.Background(), h.mem, mods, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer tr.Stop()

	msg := wire.NormalizedMessage{
		ID:        "m-7",
		CreatedAt: time.Now().UTC(),
		Source:    wire.MessageSource{Module: "reddit"},
	}
	var codec wire.Codec
	data, err := codec.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, h.mem.Publish(context.Background(), bus.MessageCreatedSubject("reddit"), data))
	h.d.Stop()

	mu.Lock()
	defer mu.Unlock()
	trigger, ok := got.Data["trigger"].(map[string]any)
	require.True(t, ok, "handler sees the forwarded trigger payload")
	assert.Equal(t, bus.MessageCreatedSubject("reddit"), trigger["subject"])
	assert.Equal(t, "m-7", trigger["messageId"])
}
