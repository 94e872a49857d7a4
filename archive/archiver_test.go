package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/wire"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	inserted []wire.NormalizedMessage
	raw      map[string][]byte
	failWith error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{raw: make(map[string][]byte)}
}

func (f *fakeMessageStore) InsertMessage(_ context.Context, msg wire.NormalizedMessage, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, dup := f.raw[msg.ID]; dup {
		return nil // ON CONFLICT DO NOTHING
	}
	f.inserted = append(f.inserted, msg)
	f.raw[msg.ID] = raw
	return nil
}

func publishJSON(t *testing.T, b *bus.Memory, subject string, v any) {
	t.Helper()
	var codec wire.Codec
	data, err := codec.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), subject, data))
}

func TestArchiverAcceptsEnvelopeAndBare(t *testing.T) {
	mem := bus.NewMemory()
	st := newFakeMessageStore()
	a := NewArchiver(mem, st, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	enveloped := wire.NormalizedMessage{
		ID:        "m-1",
		CreatedAt: time.Now().UTC(),
		Source:    wire.MessageSource{Module: "kalshi"},
		Message:   "markets moved",
	}
	publishJSON(t, mem, bus.MessageCreatedSubject("kalshi"), wire.Envelope(enveloped))

	bare := wire.NormalizedMessage{
		ID:        "m-2",
		CreatedAt: time.Now().UTC(),
		Source:    wire.MessageSource{Module: "reddit", Stream: "r/wallstreetbets"},
	}
	publishJSON(t, mem, bus.MessageCreatedSubject("reddit"), bare)

	require.Len(t, st.inserted, 2)
	assert.Equal(t, "m-1", st.inserted[0].ID)
	assert.Equal(t, "kalshi", st.inserted[0].Source.Module)
	assert.Equal(t, "m-2", st.inserted[1].ID)
	assert.Equal(t, "r/wallstreetbets", st.inserted[1].Source.Stream)
	assert.EqualValues(t, 2, a.Archived())

	// The stored raw form decodes straight back to a bare message.
	var roundtrip wire.NormalizedMessage
	var codec wire.Codec
	require.NoError(t, codec.Unmarshal(st.raw["m-1"], &roundtrip))
	assert.Equal(t, enveloped.ID, roundtrip.ID)
	assert.Equal(t, enveloped.Message, roundtrip.Message)
}

func TestArchiverIgnoresJobSubjects(t *testing.T) {
	mem := bus.NewMemory()
	st := newFakeMessageStore()
	a := NewArchiver(mem, st, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	publishJSON(t, mem, bus.JobRunSubject("github", "mod_github", "collectEvents"), wire.JobRunEvent{
		Module: "github", Queue: "mod_github", Job: "collectEvents",
		Trigger: wire.Trigger{Type: wire.TriggerSchedule},
	})

	assert.Empty(t, st.inserted)
}

func TestArchiverDropsUndecodable(t *testing.T) {
	mem := bus.NewMemory()
	st := newFakeMessageStore()
	a := NewArchiver(mem, st, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	require.NoError(t, mem.Publish(context.Background(),
		bus.MessageCreatedSubject("kalshi"), []byte(`{"no":"id"}`)))

	assert.Empty(t, st.inserted)
	assert.EqualValues(t, 1, a.Dropped())
}

func TestArchiverDropsOnPersistFailure(t *testing.T) {
	mem := bus.NewMemory()
	st := newFakeMessageStore()
	st.failWith = errors.New("db down")
	a := NewArchiver(mem, st, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	publishJSON(t, mem, bus.MessageCreatedSubject("kalshi"), wire.NormalizedMessage{
		ID: "m-3", CreatedAt: time.Now().UTC(), Source: wire.MessageSource{Module: "kalshi"},
	})

	assert.EqualValues(t, 1, a.Dropped())
	assert.EqualValues(t, 0, a.Archived())
}
