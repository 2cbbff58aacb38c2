// Package sync pushes history changes to connected clients, over websocket
// and over a plain TCP line feed.
package sync

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"reelhub/pkg/models"
)

const (
	writeTimeout = 2 * time.Second
	// sendQueue is how many events a client may fall behind before it is
	// dropped.
	sendQueue = 16
)

// client owns one connection. Only its writer goroutine touches the
// connection for writes.
type client struct {
	send     chan []byte
	username string // websocket filter, "" receives everything
	write    func([]byte) error
	close    func() error
}

type Hub struct {
	mu        sync.Mutex
	clients   map[net.Conn]*client
	wsClients map[*websocket.Conn]*client
	logger    *logrus.Logger
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		clients:   make(map[net.Conn]*client),
		wsClients: make(map[*websocket.Conn]*client),
		logger:    logger,
	}
}

// Add registers a TCP client and queues its welcome line.
func (h *Hub) Add(conn net.Conn) {
	c := &client{
		send: make(chan []byte, sendQueue),
		write: func(b []byte) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_, err := conn.Write(b)
			return err
		},
		close: conn.Close,
	}
	h.mu.Lock()
	c.send <- h.welcomeLocked("tcp")
	h.clients[conn] = c
	h.mu.Unlock()
	go h.writeLoop(c)
}

func (h *Hub) Remove(conn net.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(c.send)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// AddWS registers a websocket client and queues its welcome message. A
// non-empty username limits it to that user's events.
func (h *Hub) AddWS(ws *websocket.Conn, username string) {
	c := &client{
		send:     make(chan []byte, sendQueue),
		username: username,
		write: func(b []byte) error {
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			return ws.WriteMessage(websocket.TextMessage, b)
		},
		close: ws.Close,
	}
	h.mu.Lock()
	c.send <- h.welcomeLocked("websocket")
	h.wsClients[ws] = c
	h.mu.Unlock()
	go h.writeLoop(c)
}

func (h *Hub) RemoveWS(ws *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.wsClients[ws]; ok {
		delete(h.wsClients, ws)
		close(c.send)
	}
	h.mu.Unlock()
	_ = ws.Close()
}

// writeLoop drains the client's queue until it is closed. A failed write
// closes the connection, which ends the client's read loop and so its
// registration.
func (h *Hub) writeLoop(c *client) {
	for b := range c.send {
		if err := c.write(b); err != nil {
			_ = c.close()
			for range c.send {
			}
			return
		}
	}
}

// Publish queues a history event for every interested client without
// blocking. A client whose queue is full is dropped.
func (h *Hub) Publish(ev models.HistoryEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Warn("encode history event")
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		if !enqueue(c, b) {
			delete(h.clients, conn)
			h.logger.WithField("remote", conn.RemoteAddr().String()).Warn("tcp client too slow, dropped")
		}
	}
	for ws, c := range h.wsClients {
		if c.username != "" && c.username != ev.Username {
			continue
		}
		if !enqueue(c, b) {
			delete(h.wsClients, ws)
			h.logger.WithField("remote", ws.RemoteAddr().String()).Warn("ws client too slow, dropped")
		}
	}
}

// enqueue reports false, after closing the client, when its queue is full.
func enqueue(c *client, b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		close(c.send)
		_ = c.close()
		return false
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statsLocked()
}

func (h *Hub) statsLocked() Stats {
	return Stats{
		TCPClients: len(h.clients),
		WSClients:  len(h.wsClients),
	}
}

// welcomeLocked counts the clients already connected, not the new one.
func (h *Hub) welcomeLocked(transport string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      "welcome",
		"transport": transport,
		"clients":   h.statsLocked(),
	})
	return append(b, '\n')
}
