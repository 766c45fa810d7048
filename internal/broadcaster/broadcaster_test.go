package broadcaster

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testLogger(t *testing.T) arbor.ILogger {
	t.Helper()
	return arbor.NewLogger()
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcaster_ConnectionEstablishedFrame(t *testing.T) {
	b := New(0, testLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), TypeConnectionEstablished)
}

func TestBroadcaster_MaxConnectionsRejected(t *testing.T) {
	b := New(1, testLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	first := dial(t, srv)
	defer first.Close()
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	first.ReadMessage() // drain connection_established

	time.Sleep(50 * time.Millisecond) // let server register first subscriber
	second := dial(t, srv)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, CloseMaxConnections, closeErr.Code)
}

func TestBroadcaster_DisabledClosesWithServiceNotInitialized(t *testing.T) {
	b := New(0, testLogger(t))
	b.SetEnabled(false)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, CloseServiceNotInitialized, closeErr.Code)
}

func TestBroadcaster_BroadcastJobUpdateReachesSubscriber(t *testing.T) {
	b := New(0, testLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage() // drain connection_established

	time.Sleep(50 * time.Millisecond)
	b.BroadcastJobUpdate("job-1", "completed", nil)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), TypeJobUpdate)
	assert.Contains(t, string(data), "job-1")
}

func TestBroadcaster_SubscriberCountTracksConnections(t *testing.T) {
	b := New(0, testLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.SubscriberCount())

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, b.SubscriberCount())
}
