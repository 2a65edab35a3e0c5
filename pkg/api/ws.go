package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peer-sync/pkg/logs"
	"peer-sync/pkg/syncer"
)

const (
	wsSendBuffer   = 32
	wsWriteTimeout = 10 * time.Second
)

type subscriber struct {
	conn *websocket.Conn
	send chan syncer.Event
}

// Hub fans engine status/history events out to dashboard websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	engine   *syncer.Engine
	unsub    func()

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(e *syncer.Engine) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		engine: e,
		subs:   map[*subscriber]struct{}{},
	}
	h.unsub = e.Subscribe(h.Broadcast)
	return h
}

// HandleSync upgrades the request and sends the current status and history
// before any live event.
func (h *Hub) HandleSync(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Logger.Warnf("ws upgrade failed: %v", err)
		return
	}
	sub := &subscriber{conn: c, send: make(chan syncer.Event, wsSendBuffer)}

	// Broadcast takes h.mu, so no event can slip between the snapshot and registration.
	h.mu.Lock()
	st := h.engine.GetSyncStatus()
	sub.send <- syncer.Event{Type: syncer.EventStatus, Status: &st}
	sub.send <- syncer.Event{Type: syncer.EventHistory, History: h.engine.GetSyncHistory()}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	logs.Logger.Infof("sync subscriber connected remote=%s subscribers=%d", r.RemoteAddr, n)

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// Broadcast queues ev for every subscriber. A subscriber whose buffer is full is dropped.
func (h *Hub) Broadcast(ev syncer.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			logs.Logger.Warnf("sync subscriber too slow; dropping")
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for ev := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := sub.conn.WriteJSON(ev); err != nil {
			h.remove(sub)
			break
		}
	}
	_ = sub.conn.Close()
}

// readLoop only watches for the client going away.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
	_ = sub.conn.Close()
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.unsub()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}
