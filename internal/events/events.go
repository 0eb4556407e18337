// Package events fans flight mutations out to the map renderer, live clients
// and the optional changelog and workflow sinks.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// Type identifies what happened to a flight
type Type string

const (
	FlightCreated   Type = "flight.created"
	FlightUpdated   Type = "flight.updated"
	FlightCompleted Type = "flight.completed"
	FlightDeleted   Type = "flight.deleted"
)

// Event is published after a successful store mutation
type Event struct {
	ID         string               `json:"id"`
	Type       Type                 `json:"type"`
	FlightID   string               `json:"flight_id"`
	OccurredAt time.Time            `json:"occurred_at"`
	Location   *models.LocationView `json:"location,omitempty"`
}

// New creates an event with a fresh id
func New(t Type, flightID string, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		FlightID:   flightID,
		OccurredAt: now.UTC(),
	}
}

// WithLocation attaches the reported position
func (e Event) WithLocation(u models.LocationUpdate) Event {
	view := models.NewLocationView(u)
	e.Location = &view
	return e
}

// Handler consumes events. Errors are logged by the bus and never reach the publisher.
type Handler interface {
	HandleEvent(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// Publisher is what the service depends on
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Options configure a Bus
type Options struct {
	// Async delivers events from a background worker instead of the publishing goroutine
	Async     bool
	QueueSize int
}

type subscriber struct {
	name    string
	handler Handler
}

// Bus delivers each event to every subscriber in subscription order
type Bus struct {
	logger *logger.Logger
	async  bool

	mu          sync.RWMutex
	subscribers []subscriber

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus creates a bus. Async buses start their worker immediately.
func NewBus(log *logger.Logger, opts Options) *Bus {
	b := &Bus{
		logger: log.Named("events"),
		async:  opts.Async,
		done:   make(chan struct{}),
	}
	if opts.Async {
		size := opts.QueueSize
		if size <= 0 {
			size = 256
		}
		b.queue = make(chan Event, size)
		b.wg.Add(1)
		go b.run()
	}
	return b
}

// Subscribe registers a handler under a name used in logs
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{name: name, handler: h})
}

// Publish delivers e. In sync mode it returns after every handler ran; a
// cancelled request context doesn't abort delivery. In async mode a full
// queue drops the event with a warning.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if !b.async {
		b.dispatch(context.WithoutCancel(ctx), e)
		return
	}

	select {
	case <-b.done:
		b.logger.Warn("Event published after bus closed", logger.String("event_type", string(e.Type)), logger.String("flight_id", e.FlightID))
	case b.queue <- e:
	default:
		b.logger.Warn("Event queue full, dropping event",
			logger.String("event_type", string(e.Type)),
			logger.String("flight_id", e.FlightID))
	}
}

func (b *Bus) run() {
	defer b.wg.Done()
	ctx := context.Background()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		case <-b.done:
			// drain what was accepted before Close
			for {
				select {
				case e := <-b.queue:
					b.dispatch(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, e); err != nil {
			b.logger.Error("Event handler failed",
				logger.String("handler", s.name),
				logger.String("event_type", string(e.Type)),
				logger.String("flight_id", e.FlightID),
				logger.Error(err))
		}
	}
}

// Close stops the async worker after draining queued events
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}
