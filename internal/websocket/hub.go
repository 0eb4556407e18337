package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clients subscribed to every flight are stored under this key
	allFlights = ""
)

// Message is what live clients receive for each flight event
type Message struct {
	Type      events.Type          `json:"type"`
	EventID   string               `json:"event_id"`
	FlightID  string               `json:"flight_id"`
	Location  *models.LocationView `json:"location,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// Observer is told about connects and disconnects, e.g. for metrics
type Observer interface {
	ClientConnected()
	ClientDisconnected()
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	flightID string
}

// Hub manages WebSocket connections, optionally filtered per flight
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	observer Observer
	logger   *logger.Logger
}

// NewHub creates a new Hub; observer may be nil
func NewHub(observer Observer, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		observer: observer,
		logger:   log.Named("websocket"),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					h.drop(key, client)
				}
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.flightID] == nil {
				h.clients[client.flightID] = make(map[*Client]bool)
			}
			h.clients[client.flightID][client] = true
			total := len(h.clients[client.flightID])
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}
			h.logger.Debug("Client registered", logger.String("flight_id", client.flightID), logger.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.flightID][client]; ok {
				h.drop(client.flightID, client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal message", logger.Error(err))
				continue
			}

			keys := []string{allFlights}
			if message.FlightID != allFlights {
				keys = append(keys, message.FlightID)
			}
			h.mu.Lock()
			for _, key := range keys {
				for client := range h.clients[key] {
					select {
					case client.send <- data:
					default:
						// slow consumer
						h.drop(key, client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with the lock held
func (h *Hub) drop(key string, client *Client) {
	delete(h.clients[key], client)
	close(client.send)
	if len(h.clients[key]) == 0 {
		delete(h.clients, key)
	}
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// HandleEvent forwards a flight event to live clients without blocking the publisher
func (h *Hub) HandleEvent(ctx context.Context, e events.Event) error {
	msg := &Message{
		Type:      e.Type,
		EventID:   e.ID,
		FlightID:  e.FlightID,
		Location:  e.Location,
		Timestamp: e.OccurredAt.UnixMilli(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", logger.String("flight_id", e.FlightID))
	}
	return nil
}

// ServeWS handles GET /api/flights/ws. The optional flight_id query
// parameter limits the stream to one flight.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		flightID: r.URL.Query().Get("flight_id"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of clients subscribed under flightID ("" for the firehose)
func (h *Hub) ClientCount(flightID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[flightID])
}

// readPump discards inbound messages and keeps the read deadline alive
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
