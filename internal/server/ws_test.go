package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/events"
)

func TestHubDeliversBusEvents(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	bus.Publish(events.New(events.TypePersonDetected, "person detected"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TypePersonDetected, got.Type)
	assert.Equal(t, "person detected", got.Message)
}

func TestHubDropsClosedClients(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestBroadcastDoesNotBlockOnStalledClient(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// The client never reads. Publishing far more events than any backlog
	// holds must still return promptly; the monitor dispatches on this
	// path and cannot afford to wait on a dead socket.
	start := time.Now()
	for i := 0; i < 500; i++ {
		bus.Publish(events.New(events.TypeRecordStarted, "clip opened"))
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}
