// Package events implements the fire-and-forget typed event pipeline
// described in §4.9: each subscriber gets a bounded queue; on overflow,
// the event is dropped with a warning rather than blocking the engine.
//
// This improves on the predecessor's observer.Manager, which spawned one
// unbounded goroutine per observer per event — fine for a handful of
// slow observers, but unsafe under the sustained node-event volume this
// engine can produce in a tight loop.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

// Type is one of the six typed events the engine emits.
type Type string

const (
	TypeExecutionStarted   Type = "execution_started"
	TypeExecutionCompleted Type = "execution_completed"
	TypeExecutionError     Type = "execution_error"
	TypeNodeStarted        Type = "node_started"
	TypeNodeCompleted      Type = "node_completed"
	TypeNodeError          Type = "node_error"
)

// Event is the payload delivered to subscribers. Fields not relevant to
// a given Type are left zero.
type Event struct {
	Type        Type
	Timestamp   time.Time
	ExecutionID string

	NodeID   string
	NodeType diagram.NodeType

	Envelope *diagram.Envelope
	Duration time.Duration
	ExecCount int

	Err error

	Metadata map[string]any
}

// Consumer receives events from a subscription. Consumers run in their
// own goroutine; Pipeline never blocks on a slow consumer beyond the
// bounded queue depth.
type Consumer func(Event)

type subscriber struct {
	eventType Type
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Pipeline is the event pipeline: subscribe, publish, start/stop.
type Pipeline struct {
	mu          sync.Mutex
	subscribers []*subscriber
	queueDepth  int
	logger      *slog.Logger
}

// New builds a Pipeline with the given per-subscriber queue depth. A
// depth of 0 defaults to 64.
func New(queueDepth int, logger *slog.Logger) *Pipeline {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{queueDepth: queueDepth, logger: logger}
}

// Subscribe registers a consumer for one event type and immediately
// starts its drain goroutine. Returns an unsubscribe function.
func (p *Pipeline) Subscribe(eventType Type, consumer Consumer) func() {
	sub := &subscriber{
		eventType: eventType,
		queue:     make(chan Event, p.queueDepth),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.subscribers = append(p.subscribers, sub)
	p.mu.Unlock()

	go p.drain(sub, consumer)

	return sub.close
}

// Start is a no-op retained for API symmetry with Stop: subscribers
// begin draining as soon as they are registered.
func (p *Pipeline) Start() {}

func (p *Pipeline) drain(sub *subscriber, consumer Consumer) {
	for {
		select {
		case ev := <-sub.queue:
			consumer(ev)
		case <-sub.done:
			return
		}
	}
}

// Publish delivers an event to every subscriber registered for its type.
// Never blocks: a subscriber whose queue is full has the event dropped
// and a warning logged. Events are advisory; the engine never waits on
// subscriber backpressure.
func (p *Pipeline) Publish(ev Event) {
	p.mu.Lock()
	subs := p.subscribers
	p.mu.Unlock()

	for _, sub := range subs {
		if sub.eventType != ev.Type {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			p.logger.Warn("event pipeline dropped event: subscriber queue full",
				"event_type", string(ev.Type), "node_id", ev.NodeID)
		}
	}
}

// Stop closes every subscriber's drain loop.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscribers {
		sub.close()
	}
}
