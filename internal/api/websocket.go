package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pytake/pytake-go/internal/logger"
	"github.com/pytake/pytake-go/internal/queue"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventSubscriber is one connected /v1/events client.
type eventSubscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts queue.TaskEvents to every connected websocket subscriber.
// Unlike the teacher's hub there are no rooms or per-user routing: every
// dashboard watching /v1/events sees the whole task event stream.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*eventSubscriber]bool
	log         *logger.Logger
}

// NewHub builds an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*eventSubscriber]bool),
		log:         log,
	}
}

// EventTypes declares interest in every lifecycle transition, satisfying
// queue.EventListener so engines can feed the hub directly.
func (h *Hub) EventTypes() []string {
	return []string{"enqueued", "started", "completed", "failed", "retried"}
}

// OnTaskEvent broadcasts event to every connected subscriber. Never returns
// an error: a subscriber whose send buffer is full misses this event (it is
// not retried) but stays registered.
func (h *Hub) OnTaskEvent(event *queue.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal task event for websocket broadcast failed", "error", err)
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			h.log.Warn("websocket subscriber send buffer full, dropping event")
		}
	}
	return nil
}

func (h *Hub) register(sub *eventSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = true
}

func (h *Hub) unregister(sub *eventSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// SubscriberCount reports how many dashboards are currently connected.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// handleEvents upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := &eventSubscriber{conn: conn, send: make(chan []byte, 64)}
	h.register(sub)

	go h.writePump(sub)
	h.readPump(sub)
}

// readPump drains (and discards) client frames purely to detect
// disconnects and respond to pings; this endpoint is write-only by design.
func (h *Hub) readPump(sub *eventSubscriber) {
	defer func() {
		h.unregister(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *eventSubscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
