package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapMessage(t *testing.T) {
	var codec Codec

	msg := NormalizedMessage{
		ID:        "m-1",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:    MessageSource{Module: "kalshi", Stream: "markets"},
		Message:   "hello",
		From:      "kalshi-bot",
	}

	check := func(t *testing.T, got NormalizedMessage) {
		t.Helper()
		assert.Equal(t, msg.ID, got.ID)
		assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
		assert.Equal(t, msg.Source, got.Source)
		assert.Equal(t, msg.Message, got.Message)
		assert.Equal(t, msg.From, got.From)
	}

	t.Run("envelope", func(t *testing.T) {
		data, err := codec.Marshal(Envelope(msg))
		require.NoError(t, err)
		got, err := UnwrapMessage(data)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("bare", func(t *testing.T) {
		data, err := codec.Marshal(msg)
		require.NoError(t, err)
		got, err := UnwrapMessage(data)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("envelope without id", func(t *testing.T) {
		_, err := UnwrapMessage([]byte(`{"type":"MessageCreated","message":{}}`))
		require.Error(t, err)
	})

	t.Run("bare without id", func(t *testing.T) {
		_, err := UnwrapMessage([]byte(`{"source":{"module":"kalshi"}}`))
		require.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := UnwrapMessage([]byte("nope"))
		require.Error(t, err)
	})
}

func TestNormalizedMessageWireSpelling(t *testing.T) {
	var codec Codec

	data, err := codec.Marshal(NormalizedMessage{
		ID:        "m-1",
		CreatedAt: time.Now().UTC(),
		Source:    MessageSource{Module: "kalshi"},
		Message:   "body",
		From:      "someone",
	})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"Message":"body"`, "Message key stays capitalized on the wire")
	assert.Contains(t, s, `"From":"someone"`)
	assert.Contains(t, s, `"id":"m-1"`)

	// Optional fields are omitted entirely when unset.
	data, err = codec.Marshal(NormalizedMessage{ID: "m-2", Source: MessageSource{Module: "x"}})
	require.NoError(t, err)
	s = string(data)
	assert.False(t, strings.Contains(s, `"Message"`))
	assert.False(t, strings.Contains(s, `"realtime"`))
	assert.False(t, strings.Contains(s, `"likes"`))
}

func TestJobRunEventValidate(t *testing.T) {
	valid := JobRunEvent{
		Type: TypeJobRun, Module: "kalshi", Queue: "mod_kalshi", Job: "collect",
		Trigger: Trigger{Type: TriggerSchedule},
	}

	tests := []struct {
		name    string
		mutate  func(*JobRunEvent)
		wantErr bool
	}{
		{name: "valid", mutate: func(*JobRunEvent) {}},
		{name: "empty type allowed", mutate: func(e *JobRunEvent) { e.Type = "" }},
		{name: "wrong type", mutate: func(e *JobRunEvent) { e.Type = "MessageCreated" }, wantErr: true},
		{name: "missing module", mutate: func(e *JobRunEvent) { e.Module = "" }, wantErr: true},
		{name: "missing queue", mutate: func(e *JobRunEvent) { e.Queue = "" }, wantErr: true},
		{name: "missing job", mutate: func(e *JobRunEvent) { e.Job = "" }, wantErr: true},
		{name: "manual trigger", mutate: func(e *JobRunEvent) { e.Trigger.Type = TriggerManual }},
		{name: "event trigger", mutate: func(e *JobRunEvent) { e.Trigger.Type = TriggerEvent }},
		{name: "unknown trigger", mutate: func(e *JobRunEvent) { e.Trigger.Type = "cron" }, wantErr: true},
		{name: "empty trigger", mutate: func(e *JobRunEvent) { e.Trigger.Type = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
