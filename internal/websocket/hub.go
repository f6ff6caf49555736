package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mindwell/internal/infrastructure"
)

// Message types
const (
	TypeConnection = "connection"
	TypeMessage    = "message"
)

// Envelope is the JSON frame written to clients
type Envelope struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type outbound struct {
	topic string
	data  []byte
}

// Hub maintains the set of active clients and fans published messages out
// to the clients subscribed to each topic
type Hub struct {
	// Registered clients by topic; only touched by Run
	topics map[string]map[*Client]struct{}

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
	count   int
	quit    chan struct{}
	done    chan struct{}

	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
	}
}

// Start runs the hub loop in its own goroutine. It is idempotent.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop ends the hub loop and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for topic, clients := range h.topics {
				for c := range clients {
					h.drop(topic, c)
				}
			}
			h.logger.Info("hub shut down")
			return

		case c := <-h.register:
			clients := h.topics[c.topic]
			if clients == nil {
				clients = make(map[*Client]struct{})
				h.topics[c.topic] = clients
			}
			clients[c] = struct{}{}
			h.setCount(1)
			h.metrics.WSConnections.Add(c.ctx(), 1)
			h.logger.InfoContext(c.ctx(), "client registered",
				slog.String("client_id", c.id),
				slog.String("topic", c.topic),
				slog.String("remote_addr", c.remoteAddr))

			if frame, err := encode(TypeConnection, c.topic, map[string]string{
				"status":    "connected",
				"client_id": c.id,
			}, c.traceID); err == nil {
				c.send <- frame
			}

		case c := <-h.unregister:
			if _, ok := h.topics[c.topic][c]; ok {
				h.drop(c.topic, c)
				h.logger.InfoContext(c.ctx(), "client unregistered",
					slog.String("client_id", c.id),
					slog.Duration("connection_duration", time.Since(c.connectedAt)))
			}

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver sends msg to every subscriber; clients whose buffer is full are
// disconnected
func (h *Hub) deliver(msg outbound) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("topic_kind", "chat_session"))
	for c := range h.topics[msg.topic] {
		select {
		case c.send <- msg.data:
			h.metrics.WSMessagesSent.Add(ctx, 1, attrs)
		default:
			h.metrics.WSMessagesDropped.Add(ctx, 1, attrs)
			h.logger.WarnContext(c.ctx(), "client send buffer full, disconnecting",
				slog.String("client_id", c.id))
			h.drop(msg.topic, c)
		}
	}
}

// drop must only be called from run
func (h *Hub) drop(topic string, c *Client) {
	delete(h.topics[topic], c)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
	close(c.send)
	h.setCount(-1)
	h.metrics.WSConnections.Add(context.Background(), -1)
}

func (h *Hub) setCount(delta int) {
	h.mu.Lock()
	h.count += delta
	h.mu.Unlock()
}

// Publish sends data to every client subscribed to topic. It never blocks;
// the message is dropped when the hub is stopped or saturated.
func (h *Hub) Publish(ctx context.Context, topic, msgType string, data interface{}) {
	frame, err := encode(msgType, topic, data, infrastructure.GetTraceID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{topic: topic, data: frame}:
	default:
		h.metrics.WSMessagesDropped.Add(ctx, 1)
		h.logger.WarnContext(ctx, "broadcast queue full, message dropped", slog.String("topic", topic))
	}
}

// Register adds a client. It returns false when the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func encode(msgType, topic string, data interface{}, traceID string) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      msgType,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
}
