package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mindwell/internal/infrastructure"
)

// ErrNoServer is returned by Send before a Server has been attached
var ErrNoServer = errors.New("no job server attached to client")

// Dispatcher delivers events to the functions they trigger
type Dispatcher interface {
	Dispatch(ctx context.Context, events []Event) error
}

// Client publishes events for an application
type Client struct {
	appID   string
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	mu         sync.RWMutex
	dispatcher Dispatcher
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the client logger. A nil logger keeps the default.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientMetrics sets the instruments used to count sent events. Nil
// keeps the no-op instruments.
func WithClientMetrics(metrics *infrastructure.BusinessMetrics) ClientOption {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// NewClient creates a client for appID
func NewClient(appID string, opts ...ClientOption) *Client {
	c := &Client{
		appID:   appID,
		logger:  slog.Default(),
		metrics: infrastructure.NoopBusinessMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "jobs_client"))
	return c
}

// AppID returns the application id
func (c *Client) AppID() string {
	return c.appID
}

// Send assigns ids and timestamps to events and dispatches them. It returns
// the event ids in order.
func (c *Client) Send(ctx context.Context, events ...Event) ([]string, error) {
	c.mu.RLock()
	d := c.dispatcher
	c.mu.RUnlock()
	if d == nil {
		return nil, ErrNoServer
	}

	now := time.Now()
	ids := make([]string, len(events))
	for i := range events {
		if events[i].Name == "" {
			return nil, fmt.Errorf("event %d: name is required", i)
		}
		events[i].normalize(now)
		ids[i] = events[i].ID
	}

	if err := d.Dispatch(ctx, events); err != nil {
		return nil, fmt.Errorf("dispatch events: %w", err)
	}

	for _, e := range events {
		c.metrics.JobEventsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("event.name", e.Name)))
		c.logger.DebugContext(ctx, "event sent", slog.String("event", e.Name), slog.String("event_id", e.ID))
	}
	return ids, nil
}

func (c *Client) attach(d Dispatcher) {
	c.mu.Lock()
	c.dispatcher = d
	c.mu.Unlock()
}
