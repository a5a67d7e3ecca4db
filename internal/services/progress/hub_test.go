package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(common.NewSilentLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := newRunningHub(t)
	conn := dial(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Publish(models.ProgressEvent{
		Type:      models.EventFileCompleted,
		Timestamp: time.Now(),
		JobID:     7,
		FilePath:  "/data/a.txt",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.ProgressEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, models.EventFileCompleted, event.Type)
	assert.Equal(t, int64(7), event.JobID)
}

func TestHub_MultipleClients(t *testing.T) {
	hub := newRunningHub(t)
	a := dial(t, hub)
	b := dial(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	hub.Publish(models.ProgressEvent{Type: models.EventStateChanged, State: models.StateProcessing})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), models.StateProcessing)
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := newRunningHub(t)
	conn := dial(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishNeverBlocksWithoutClients(t *testing.T) {
	hub := NewHub(common.NewSilentLogger())
	// No Run loop: the buffer absorbs what it can, the rest is dropped.
	for i := 0; i < 1000; i++ {
		hub.Publish(models.ProgressEvent{Type: models.EventProgress, FilesScanned: int64(i)})
	}
}
