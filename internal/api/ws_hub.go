package api

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients. Private-channel
// events carry the commitment and volume only; Side and Price are set for
// public trades exclusively.
type WSMessage struct {
	Type       string `json:"type"`
	MarketID   uint64 `json:"market_id"`
	Commitment string `json:"commitment,omitempty"`
	Side       string `json:"side,omitempty"`
	Amount     uint64 `json:"amount,omitempty"`
	Price      string `json:"price,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// WSHub manages WebSocket connections and broadcasts settlement events to
// all connected clients. All connection writes, pings included, happen on
// the Run goroutine; gorilla/websocket allows only one concurrent writer.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	ping       chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		ping:       make(chan *websocket.Conn, 64),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()

		case conn := <-h.ping:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastEvent fans a ledger event out to all connected clients.
func (h *WSHub) BroadcastEvent(ev model.LedgerEvent) {
	msg := WSMessage{
		Type:      ev.Kind,
		MarketID:  ev.MarketID,
		Side:      string(ev.Side),
		Amount:    ev.Amount,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(ev.Commitment) > 0 {
		msg.Commitment = hex.EncodeToString(ev.Commitment)
	}
	if !ev.Price.IsZero() {
		msg.Price = ev.Price.String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking settlement.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. The write
	// itself happens on the hub loop.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			select {
			case h.ping <- conn:
			default:
			}
		}
	}()
}
