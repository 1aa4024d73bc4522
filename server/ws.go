package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/graphstudio/graphstudio/logger"
)

// Event is one frame pushed over the websocket feed.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// hub tracks connected websocket clients and fans events out to them.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("event not serializable", "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.remove(c)
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Publish pushes an event to every connected client. The conversation
// controller's OnUpdate hook and panel mutations both feed through here.
func (s *Server) Publish(eventType string, payload any) {
	s.hub.broadcast(Event{Type: eventType, Payload: payload})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The studio server binds to loopback; the browser shell connects
		// from a file:// or dev-server origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept failed", "err", err)
		return
	}

	s.hub.add(conn)
	logger.Info("websocket client connected", "remote", r.RemoteAddr)

	// Drain reads so pings and close frames are processed; the feed is
	// one-directional.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	s.hub.remove(conn)
	conn.Close(websocket.StatusNormalClosure, "")
	logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
}
