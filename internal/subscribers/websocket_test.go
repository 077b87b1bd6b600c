package subscribers

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

	"github.com/jerry-enebeli/swapflow/model"
)

func newWSServer(t *testing.T, reg *Registry) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		_ = reg.Serve(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := strings.Replace(server.URL, "http://", "ws://", 1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestWebsocket_AckThenEvents(t *testing.T) {
	reg := NewRegistry(nil)
	server := newWSServer(t, reg)

	reg.Broadcast(model.ProgressEvent{OrderID: "ord_before", Progress: 20})

	client := dial(t, server)

	var ack model.ConnectedMessage
	readJSON(t, client, &ack)
	assert.Equal(t, "connected", ack.Type)
	assert.Equal(t, "Connected to order updates", ack.Message)

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	reg.Broadcast(model.ProgressEvent{OrderID: "ord_after", Status: model.StatusConfirmed, Progress: 100})

	var ev model.ProgressEvent
	readJSON(t, client, &ev)
	assert.Equal(t, "ord_after", ev.OrderID)
	assert.Equal(t, 100, ev.Progress)
}

func TestWebsocket_ClientDisconnectRemovesSubscriber(t *testing.T) {
	reg := NewRegistry(nil)
	server := newWSServer(t, reg)

	client := dial(t, server)
	var ack model.ConnectedMessage
	readJSON(t, client, &ack)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
