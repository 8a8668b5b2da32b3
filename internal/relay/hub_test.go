package relay

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(creds Credentials) *Hub {
	return NewHub(Options{
		Credentials:  creds,
		PublishLimit: 60,
		Clock:        clockwork.NewFakeClock(),
		Logger:       zap.NewNop(),
	})
}

func nextFrame(t *testing.T, conn *fakeConn) string {
	t.Helper()
	select {
	case f := <-conn.writes:
		return string(f)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestHubSubscribeSendsAckFirst(t *testing.T) {
	hub := newTestHub(NewCredentials("g", nil))
	conn := newFakeConn()

	require.True(t, hub.Authorize("alpha", "g"))
	s, err := hub.Subscribe("alpha", "127.0.0.1:5000", conn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ReasonClientClosed) })

	n, err := hub.Publish(PublishRequest{Room: "alpha", Token: "g", Text: "clip", Source: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.JSONEq(t, `{"ok":true,"msg":"connected"}`, nextFrame(t, conn))
	assert.JSONEq(t, `{"text":"clip"}`, nextFrame(t, conn))
	assert.Equal(t, "127.0.0.1:5000", s.Remote())
	assert.NotEmpty(t, s.ID())
}

func TestHubSessionLeavesOnDisconnect(t *testing.T) {
	hub := newTestHub(NewCredentials("g", nil))
	conn := newFakeConn()

	_, err := hub.Subscribe("alpha", "remote", conn)
	require.NoError(t, err)
	require.Equal(t, 1, hub.Registry().Count("alpha"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)

	n, err := hub.Publish(PublishRequest{Room: "alpha", Token: "g", Text: "late", Source: "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHubShutdown(t *testing.T) {
	hub := newTestHub(NewCredentials("g", nil))
	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = newFakeConn()
		_, err := hub.Subscribe("alpha", "remote", conns[i])
		require.NoError(t, err)
	}

	require.NoError(t, hub.Shutdown(time.Second))

	for _, c := range conns {
		assert.True(t, c.isClosed())
		assert.Equal(t, 1, c.controlCount(websocket.CloseMessage))
	}
	assert.Zero(t, hub.Registry().Len())

	_, err := hub.Subscribe("alpha", "remote", newFakeConn())
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubRunStopsOnCancel(t *testing.T) {
	hub := newTestHub(NewCredentials("g", nil))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHubAccessors(t *testing.T) {
	hub := newTestHub(NewCredentials("", nil))

	assert.NotNil(t, hub.Gate())
	assert.False(t, hub.Gate().Open())
	assert.Equal(t, 60, hub.Limiter().Limit())
	assert.NotNil(t, hub.Monitor())
	assert.NotNil(t, hub.Dispatcher())
	assert.False(t, hub.Authorize("alpha", ""))
}
