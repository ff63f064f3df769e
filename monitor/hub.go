package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Uranury/IotGo-emulator/emulator"
)

const (
	hubBuffer    = 256
	writeTimeout = 5 * time.Second
)

// Message is what websocket clients receive for every worker iteration.
type Message struct {
	DeviceID   string    `json:"deviceId"`
	SensorType string    `json:"sensorType"`
	Value      *float64  `json:"value,omitempty"`
	Injected   bool      `json:"injected"`
	Body       string    `json:"body"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Hub broadcasts worker events to websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	events chan Message
	logger *zap.Logger
	now    func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan Message, hubBuffer),
		logger:  logger,
		now:     time.Now,
	}
}

// Record queues e for broadcast. Events are dropped when the buffer is full
// so that a slow client never holds up a worker.
func (h *Hub) Record(e emulator.Event) {
	msg := Message{
		DeviceID:   e.DeviceID,
		SensorType: e.SensorType,
		Injected:   e.Injected,
		Body:       e.Body,
		Timestamp:  h.now().UTC(),
	}
	if e.Reading != nil {
		v := e.Reading.Value
		msg.Value = &v
		msg.Timestamp = e.Reading.Timestamp
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}

	select {
	case h.events <- msg:
	default:
	}
}

// Run delivers queued events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case msg := <-h.events:
			h.broadcast(msg)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	return len(h.clients)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, client := range conns {
		_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(msg); err != nil {
			h.logger.Warn("websocket write error", zap.Error(err))
			h.remove(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}
