package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hyoklee/fabtsuite/xfer"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ xfer.MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter           metric.Meter
	workerStarted   metric.Int64Counter
	workerStopped   metric.Int64Counter
	workerPollError metric.Int64Counter
	writeCompleted  metric.Int64Counter
	writeFailed     metric.Int64Counter
	vectorReceived  metric.Int64Counter
	vectorFailed    metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter
// measurements for worker-pool lifecycle and RDMA write/vector completion
// events.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/hyoklee/fabtsuite/xfer"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	workerStarted, err := meter.Int64Counter("fabtsuite.worker.started")
	if err != nil {
		return nil, err
	}
	workerStopped, err := meter.Int64Counter("fabtsuite.worker.stopped")
	if err != nil {
		return nil, err
	}
	workerPollError, err := meter.Int64Counter("fabtsuite.worker.poll_errors")
	if err != nil {
		return nil, err
	}
	writeCompleted, err := meter.Int64Counter("fabtsuite.rma.write.completed")
	if err != nil {
		return nil, err
	}
	writeFailed, err := meter.Int64Counter("fabtsuite.rma.write.failed")
	if err != nil {
		return nil, err
	}
	vectorReceived, err := meter.Int64Counter("fabtsuite.vector.received")
	if err != nil {
		return nil, err
	}
	vectorFailed, err := meter.Int64Counter("fabtsuite.vector.failed")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:           meter,
		workerStarted:   workerStarted,
		workerStopped:   workerStopped,
		workerPollError: workerPollError,
		writeCompleted:  writeCompleted,
		writeFailed:     writeFailed,
		vectorReceived:  vectorReceived,
		vectorFailed:    vectorFailed,
	}, nil
}

func (o *OTelMetrics) WorkerStarted(attrs map[string]string) {
	o.workerStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) WorkerStopped(attrs map[string]string) {
	o.workerStopped.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) WorkerPollError(kind string, _ error, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelKind, kind))
	o.workerPollError.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

func (o *OTelMetrics) WriteCompleted(attrs map[string]string) {
	o.writeCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

func (o *OTelMetrics) WriteFailed(_ error, attrs map[string]string) {
	o.writeFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

func (o *OTelMetrics) VectorReceived(attrs map[string]string) {
	o.vectorReceived.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

func (o *OTelMetrics) VectorFailed(_ error, attrs map[string]string) {
	o.vectorFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelEndpointType, attrs[labelEndpointType]),
		attribute.String(labelProvider, attrs[labelProvider]),
	}
	if v := attrs[labelNode]; v != "" {
		kvs = append(kvs, attribute.String(labelNode, v))
	}
	if v := attrs[labelService]; v != "" {
		kvs = append(kvs, attribute.String(labelService, v))
	}
	return kvs
}

func otelAttrsWithOperation(attrs map[string]string) []attribute.KeyValue {
	kvs := otelAttrs(attrs)
	if v := attrs[labelOperation]; v != "" {
		kvs = append(kvs, attribute.String(labelOperation, v))
	}
	if v := attrs[labelStatus]; v != "" {
		kvs = append(kvs, attribute.String(labelStatus, v))
	}
	return kvs
}

var _ xfer.Tracer = (*OTelTracer)(nil)

// OTelTracer adapts an OpenTelemetry trace.Tracer to Tracer, used to trace
// a session's handshake and a worker's pass.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer wraps tracer (from a TracerProvider.Tracer call) as a Tracer.
func NewOTelTracer(tracer oteltrace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (t *OTelTracer) StartSpan(name string, attrs ...xfer.TraceAttribute) xfer.Span {
	_, span := t.tracer.Start(context.Background(), name, oteltrace.WithAttributes(toOtelKV(attrs)...))
	return &otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()
}

func (s *otelSpan) AddEvent(name string, attrs ...xfer.TraceAttribute) {
	s.span.AddEvent(name, oteltrace.WithAttributes(toOtelKV(attrs)...))
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

func toOtelKV(attrs []xfer.TraceAttribute) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(a.Key, v))
		case uint64:
			kvs = append(kvs, attribute.Int64(a.Key, int64(v)))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return kvs
}
