package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trainboard/internal/eventbus"
	"trainboard/internal/metrics"
	"trainboard/internal/registry"
	logx "trainboard/pkg/logx"
)

const (
	feedSendBuffer = 64
	feedWriteWait  = 10 * time.Second
	feedReadLimit  = 512

	// FeedTypeSnapshot is the type of the first message on every feed connection.
	FeedTypeSnapshot = "snapshot"
)

// feedSnapshot opens every feed. Events with a revision at or below
// Revision are already reflected in it.
type feedSnapshot struct {
	Type          string             `json:"type"`
	Version       uint64             `json:"version"`
	Revision      uint64             `json:"revision"`
	TrainStations []registry.Station `json:"train_stations"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.done) })
}

// feedHub fans registry events out to websocket clients. A client whose
// buffer is full is disconnected instead of slowing the others down.
type feedHub struct {
	log      logx.Logger
	metrics  *metrics.Metrics
	ping     time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

func newFeedHub(ping time.Duration, m *metrics.Metrics, log logx.Logger) *feedHub {
	return &feedHub{
		log:     log,
		metrics: m,
		ping:    ping,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only public data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*feedClient]struct{}{},
	}
}

func (h *feedHub) add(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.FeedClients(1)
	return true
}

func (h *feedHub) remove(c *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.metrics.FeedClients(-1)
	}
	h.mu.Unlock()
	c.close()
}

func (h *feedHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *feedHub) broadcast(ev eventbus.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("feed event encode failed", logx.String("type", ev.Type), logx.Err(err))
		return
	}
	h.send(msg)
}

func (h *feedHub) send(msg []byte) {
	h.mu.Lock()
	var slow []*feedClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Debug("feed client too slow; disconnecting", logx.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// resync sends a fresh snapshot to every client and returns its revision.
func (h *feedHub) resync(reg *registry.Service) (uint64, error) {
	msg, rev, err := snapshotMessage(reg)
	if err != nil {
		return 0, err
	}
	h.log.Info("feed events dropped; resyncing clients", logx.Uint64("revision", rev))
	h.send(msg)
	return rev, nil
}

func snapshotMessage(reg *registry.Service) ([]byte, uint64, error) {
	snap, rev := reg.Snapshot()
	msg, err := json.Marshal(feedSnapshot{
		Type:          FeedTypeSnapshot,
		Version:       snap.Version(),
		Revision:      rev,
		TrainStations: snap.Stations(),
	})
	return msg, rev, err
}

func (h *feedHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	h := s.feed
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an error response.
		h.log.Debug("feed upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer), done: make(chan struct{})}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.remove(c)

	// Register before snapshotting so no event can fall between the two.
	first, _, err := snapshotMessage(s.deps.Registry)
	if err != nil {
		h.log.Warn("feed snapshot encode failed", logx.Err(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, first); err != nil {
		return
	}

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards client messages and keeps the read deadline alive via pongs.
func (h *feedHub) readLoop(c *feedClient) {
	defer c.close()
	c.conn.SetReadLimit(feedReadLimit)
	wait := 2 * h.ping
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop owns all writes to the connection.
func (h *feedHub) writeLoop(c *feedClient) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
