package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

// hub fans ingested events out to connected UI websocket clients.
type hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	done      chan struct{}
}

func newHub(log *slog.Logger) *hub {
	h := &hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for conn := range h.clients {
				conn.Close()
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
			metrics.WebsocketClients.Set(float64(len(h.clients)))
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			metrics.WebsocketClients.Set(float64(len(h.clients)))
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.log.Warn("hub: failed to write to client", "error", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			metrics.WebsocketClients.Set(float64(len(h.clients)))
		}
	}
}

func (h *hub) close() {
	close(h.done)
}

// BroadcastEvent pushes one ingested event to every connected client.
func (h *hub) BroadcastEvent(ev telemetry.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub: failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Slow consumers drop frames rather than stalling ingestion.
	}
}

func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("hub: websocket upgrade failed", "error", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Debug("hub: client read error", "error", err)
				}
				return
			}
		}
	}()
}
