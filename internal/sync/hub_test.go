package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub/pkg/models"
)

func TestTCPFeedReceivesEvents(t *testing.T) {
	hub := NewHub(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer("", hub).Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"welcome"`)

	require.Eventually(t, func() bool { return hub.Stats().TCPClients == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(models.HistoryEvent{Type: "history.update", Username: "alice", ContentID: "c1", Leaving: 42})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err = r.ReadString('\n')
	require.NoError(t, err)

	var ev models.HistoryEvent
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, 42, ev.Leaving)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWSFiltersByUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", WSHandler(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?username=bob"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"websocket"`)
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(models.HistoryEvent{Type: "history.update", Username: "alice", ContentID: "skip"})
	hub.Publish(models.HistoryEvent{Type: "history.create", Username: "bob", ContentID: "c2"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	var ev models.HistoryEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "c2", ev.ContentID)
	assert.Equal(t, "history.create", ev.Type)
}

func TestPublishDropsSlowClientWithoutBlocking(t *testing.T) {
	hub := NewHub(nil)
	server, peer := net.Pipe()
	defer peer.Close()
	// peer never reads, so the first write blocks the client's writer
	hub.Add(server)
	require.Equal(t, 1, hub.Stats().TCPClients)

	start := time.Now()
	for i := 0; i < 4*sendQueue; i++ {
		hub.Publish(models.HistoryEvent{Type: "history.update", Username: "alice", ContentID: "c1"})
	}
	assert.Less(t, time.Since(start), writeTimeout, "publish must not wait on a stuck client")
	assert.Equal(t, 0, hub.Stats().TCPClients)

	// the dropped connection is closed
	_, err := peer.Read(make([]byte, 1))
	assert.Error(t, err)

	// removing an already dropped client is harmless
	hub.Remove(server)
}

func TestWSContextUsernameOverridesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { c.Set(UsernameKey, "bob") }, WSHandler(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?username=alice"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(models.HistoryEvent{Type: "history.update", Username: "alice", ContentID: "hidden"})
	hub.Publish(models.HistoryEvent{Type: "history.update", Username: "bob", ContentID: "mine"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev models.HistoryEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "mine", ev.ContentID)
}
