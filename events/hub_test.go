package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/logger"
	"github.com/saiset-co/sai-docstore/types"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Load() error                     { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig { return s.config }

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	config := &stubConfig{config: &types.ServiceConfig{
		Events: &types.EventsConfig{Enabled: true, QueueSize: 4},
	}}

	hub, err := NewHub(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), nil)
	require.NoError(t, err)

	return hub
}

func TestHub_DisabledConfigRejected(t *testing.T) {
	config := &stubConfig{config: &types.ServiceConfig{
		Events: &types.EventsConfig{Enabled: false},
	}}

	_, err := NewHub(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), nil)
	require.ErrorIs(t, err, types.ErrEventHubClosed)
}

func TestHub_PublishRequiresRunning(t *testing.T) {
	hub := newTestHub(t)

	err := hub.Publish(types.RoomAdmin, types.ActionOrderUpdated, "payload")
	require.ErrorIs(t, err, types.ErrEventHubClosed)

	require.NoError(t, hub.Start())
	t.Cleanup(func() { _ = hub.Stop() })

	// No subscribers: publish succeeds and the message is simply gone.
	require.NoError(t, hub.Publish(types.RoomAdmin, types.ActionOrderUpdated, "payload"))
}

func TestHub_Lifecycle(t *testing.T) {
	hub := newTestHub(t)

	assert.False(t, hub.IsRunning())
	require.NoError(t, hub.Start())
	assert.True(t, hub.IsRunning())
	require.ErrorIs(t, hub.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, hub.Stop())
	assert.False(t, hub.IsRunning())
	require.ErrorIs(t, hub.Stop(), types.ErrServerNotRunning)
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := newTestHub(t)
	require.NoError(t, hub.Start())
	t.Cleanup(func() { _ = hub.Stop() })

	// A registered client that never reads fills its queue; publishes past
	// the queue size must still return immediately.
	c := &client{room: types.RoomAdmin, send: make(chan *types.EventMessage, hub.queueSize)}
	hub.clientsMu.Lock()
	hub.clients[c] = struct{}{}
	hub.clientsMu.Unlock()

	for i := 0; i < hub.queueSize*2; i++ {
		require.NoError(t, hub.Publish(types.RoomAdmin, types.ActionOrderUpdated, i))
	}

	assert.Len(t, c.send, hub.queueSize)

	hub.clientsMu.Lock()
	delete(hub.clients, c)
	hub.clientsMu.Unlock()
}
