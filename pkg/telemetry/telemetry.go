// Package telemetry wires OpenTelemetry metrics (exported via Prometheus)
// and tracing into the execution engine: execution-level counters and
// duration histograms, and per-node counters, durations, and trace spans.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

const (
	serviceName = "diagrunner"

	metricExecutionsTotal  = "execution.runs.total"
	metricExecutionDur     = "execution.duration"
	metricExecutionSuccess = "execution.runs.success.total"
	metricExecutionFailure = "execution.runs.failure.total"
	metricNodeExecutions   = "node.executions.total"
	metricNodeDuration     = "node.execution.duration"
	metricNodeSuccess      = "node.executions.success.total"
	metricNodeFailure      = "node.executions.failure.total"
)

// Provider manages OpenTelemetry setup and provides access to tracers and
// meters for the engine's execution and node lifecycle events.
type Provider struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider trace.TracerProvider
	meter          metric.Meter
	tracer         trace.Tracer

	executionsTotal  metric.Int64Counter
	executionDur     metric.Float64Histogram
	executionSuccess metric.Int64Counter
	executionFailure metric.Int64Counter
	nodeExecutions   metric.Int64Counter
	nodeDuration     metric.Float64Histogram
	nodeSuccess      metric.Int64Counter
	nodeFailure      metric.Int64Counter

	mu sync.RWMutex
}

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	EnableTracing  bool
	EnableMetrics  bool
}

// DefaultConfig returns default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    "development",
		EnableTracing:  true,
		EnableMetrics:  true,
	}
}

// NewProvider initializes OpenTelemetry with a Prometheus metrics exporter
// and returns a Provider ready to record execution/node telemetry.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if config.EnableMetrics {
		if err := provider.initMetrics(res); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	if config.EnableTracing {
		provider.initTracing()
	}

	return provider, nil
}

func (p *Provider) initMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(serviceName)

	return p.createMetricInstruments()
}

func (p *Provider) initTracing() {
	p.tracerProvider = otel.GetTracerProvider()
	p.tracer = p.tracerProvider.Tracer(serviceName)
}

func (p *Provider) createMetricInstruments() error {
	var err error

	if p.executionsTotal, err = p.meter.Int64Counter(metricExecutionsTotal,
		metric.WithDescription("Total number of diagram executions")); err != nil {
		return err
	}
	if p.executionDur, err = p.meter.Float64Histogram(metricExecutionDur,
		metric.WithDescription("Diagram execution duration"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.executionSuccess, err = p.meter.Int64Counter(metricExecutionSuccess,
		metric.WithDescription("Total number of successful diagram executions")); err != nil {
		return err
	}
	if p.executionFailure, err = p.meter.Int64Counter(metricExecutionFailure,
		metric.WithDescription("Total number of failed diagram executions")); err != nil {
		return err
	}
	if p.nodeExecutions, err = p.meter.Int64Counter(metricNodeExecutions,
		metric.WithDescription("Total number of node invocations")); err != nil {
		return err
	}
	if p.nodeDuration, err = p.meter.Float64Histogram(metricNodeDuration,
		metric.WithDescription("Node invocation duration"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.nodeSuccess, err = p.meter.Int64Counter(metricNodeSuccess,
		metric.WithDescription("Total number of successful node invocations")); err != nil {
		return err
	}
	if p.nodeFailure, err = p.meter.Int64Counter(metricNodeFailure,
		metric.WithDescription("Total number of failed node invocations")); err != nil {
		return err
	}
	return nil
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tracer
}

// Meter returns the meter for recording metrics.
func (p *Provider) Meter() metric.Meter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meter
}

// RecordExecution records metrics for one full diagram execution.
func (p *Provider) RecordExecution(ctx context.Context, executionID string, duration time.Duration, success bool, nodesExecuted int) {
	if p.meter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("execution.id", executionID),
		attribute.Int("nodes.executed", nodesExecuted),
	}
	p.executionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.executionDur.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if success {
		p.executionSuccess.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		p.executionFailure.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordNodeExecution records metrics for one node invocation.
func (p *Provider) RecordNodeExecution(ctx context.Context, nodeID string, nodeType diagram.NodeType, duration time.Duration, success bool) {
	if p.meter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("node.id", nodeID),
		attribute.String("node.type", string(nodeType)),
	}
	p.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.nodeDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if success {
		p.nodeSuccess.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		p.nodeFailure.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Shutdown gracefully shuts down the telemetry provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	return nil
}
