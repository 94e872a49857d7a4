package heartbeat

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

func TestHeartbeatPublishesDigest(t *testing.T) {
	m := module.Manifest{
		Name: "heartbeat",
		Jobs: []module.JobSpec{{Name: "beat", Queue: "mod_heartbeat", Schedule: "*/5 * * * *"}},
	}
	rt, err := New(m)
	require.NoError(t, err)

	h, ok := rt.Handler("mod_heartbeat", "beat")
	require.True(t, ok)

	mem := bus.NewMemory()
	var mu sync.Mutex
	var got []wire.NormalizedMessage
	_, err = mem.Subscribe(bus.SubjectMessagesWildcard, func(_ string, data []byte) {
		msg, err := wire.UnwrapMessage(data)
		require.NoError(t, err)
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)

	ec := module.NewExecContext("heartbeat", "", nil, mem, nil, nil)
	result, err := h(context.Background(), ec, module.JobInput{Name: "beat", ID: "run-1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Metrics["published"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	msg := got[0]
	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err)
	assert.Equal(t, "heartbeat", msg.Source.Module)
	assert.Equal(t, "heartbeat", msg.Source.Stream)
	assert.True(t, msg.IsDigest)
	assert.True(t, msg.IsSystemMessage)
	assert.NotEmpty(t, msg.Message)
}
