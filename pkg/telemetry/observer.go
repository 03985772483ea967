package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowcraft-run/diagrunner/pkg/events"
)

// Subscriber wires a Provider's metrics and spans into an events.Pipeline.
// One Subscriber tracks exactly one execution's span tree; construct a new
// one per execution.
type Subscriber struct {
	provider *Provider

	mu            sync.Mutex
	executionSpan trace.Span
	nodeSpans     map[string]trace.Span
	executionID   string
	startTime     time.Time
	nodesExecuted int
}

// NewSubscriber creates a telemetry subscriber bound to a Provider.
func NewSubscriber(provider *Provider) *Subscriber {
	return &Subscriber{provider: provider, nodeSpans: make(map[string]trace.Span)}
}

// Attach registers the subscriber's handlers on a pipeline and returns a
// combined unsubscribe function.
func (s *Subscriber) Attach(p *events.Pipeline) func() {
	unsubs := []func(){
		p.Subscribe(events.TypeExecutionStarted, s.onExecutionStarted),
		p.Subscribe(events.TypeExecutionCompleted, s.onExecutionEnded(true)),
		p.Subscribe(events.TypeExecutionError, s.onExecutionEnded(false)),
		p.Subscribe(events.TypeNodeStarted, s.onNodeStarted),
		p.Subscribe(events.TypeNodeCompleted, s.onNodeEnded(true)),
		p.Subscribe(events.TypeNodeError, s.onNodeEnded(false)),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *Subscriber) onExecutionStarted(ev events.Event) {
	ctx := context.Background()
	_, span := s.provider.Tracer().Start(ctx, "execution.run",
		trace.WithAttributes(attribute.String("execution.id", ev.ExecutionID)))

	s.mu.Lock()
	s.executionSpan = span
	s.executionID = ev.ExecutionID
	s.startTime = ev.Timestamp
	s.mu.Unlock()
}

func (s *Subscriber) onExecutionEnded(success bool) events.Consumer {
	return func(ev events.Event) {
		s.mu.Lock()
		duration := time.Since(s.startTime)
		span := s.executionSpan
		nodesExecuted := s.nodesExecuted
		s.mu.Unlock()

		s.provider.RecordExecution(context.Background(), ev.ExecutionID, duration, success, nodesExecuted)

		if span == nil {
			return
		}
		if ev.Err != nil {
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, ev.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "execution completed")
		}
		span.End()
	}
}

func (s *Subscriber) onNodeStarted(ev events.Event) {
	s.mu.Lock()
	parentSpan := s.executionSpan
	s.mu.Unlock()

	ctx := context.Background()
	if parentSpan != nil {
		ctx = trace.ContextWithSpan(ctx, parentSpan)
	}

	_, span := s.provider.Tracer().Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.id", ev.NodeID),
			attribute.String("node.type", string(ev.NodeType)),
			attribute.String("execution.id", ev.ExecutionID),
		),
	)

	s.mu.Lock()
	s.nodeSpans[ev.NodeID] = span
	s.nodesExecuted++
	s.mu.Unlock()
}

func (s *Subscriber) onNodeEnded(success bool) events.Consumer {
	return func(ev events.Event) {
		s.provider.RecordNodeExecution(context.Background(), ev.NodeID, ev.NodeType, ev.Duration, success)

		s.mu.Lock()
		span, ok := s.nodeSpans[ev.NodeID]
		if ok {
			delete(s.nodeSpans, ev.NodeID)
		}
		s.mu.Unlock()
		if !ok {
			return
		}

		if ev.Err != nil {
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, ev.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "node completed")
		}
		span.End()
	}
}
