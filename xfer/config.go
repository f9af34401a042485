package xfer

import "github.com/hyoklee/fabtsuite/fi"

// Config gathers everything a Get or Put bring-up needs beyond the wire
// arguments themselves: how to discover the fabric, how many workers to
// multiplex sessions across, and where to send logs, traces, and metrics.
// The teacher has no config package beyond DiscoverOption functional
// options; Config is the thin struct cmd/fget and cmd/fput fill in from
// parsed flags and hand down into Get/Put, rather than a new layered
// configuration system.
type Config struct {
	// Discover selects the fabric/domain/provider a bring-up opens against.
	// Callers build this from fi.WithNode, fi.WithService, fi.WithProvider,
	// and friends.
	Discover []fi.DiscoverOption

	// MaxWorkers bounds how many workers a WorkerPool grows to. Zero means
	// the pool's own default.
	MaxWorkers int

	// Depth is the per-session ring/pool depth handed to NewReceiver,
	// NewTransmitter, and the sessions' hand-off FIFOs.
	Depth int

	// Logger and StructuredLogger receive debug-level trace of the
	// connection and worker loops. A nil value discards the corresponding
	// calls; callers normally pass a *telemetry.ZapLogger for both, since
	// it implements both interfaces.
	Logger           Logger
	StructuredLogger StructuredLogger

	// Tracer wraps a transmitter session's handshake and each worker pass in
	// a span; the receiver's handshake in Get is not traced.
	// A nil Tracer disables tracing.
	Tracer Tracer

	// Metrics receives worker-pool lifecycle and RDMA write/vector
	// completion counters. A nil Metrics disables metrics.
	Metrics MetricHook

	// Reregister selects re-register mode: a payload buffer's memory
	// region is released and re-created each time it leaves and re-enters
	// the data plane, rather than registered once and held for the life
	// of the process. Matches the reference implementation's -r flag.
	Reregister bool

	// Contiguous restricts a transmitter to one remote RMA segment per
	// write (rma_maxsegs=1) regardless of how many vector triples the
	// receiver advertises in one message. Matches the reference
	// implementation's -g flag; it has no effect on a receiver.
	Contiguous bool
}

func (c *Config) reregister() bool {
	return c != nil && c.Reregister
}

// Logger provides structured debug logging hooks for the worker pool. It is
// declared here so xfer does not need to import telemetry;
// telemetry.ZapLogger implements it.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
// telemetry.ZapLogger implements it.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to a session or
// worker-pass span. telemetry.OTelTracer converts it to an OpenTelemetry
// attribute.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap session and worker-pass activity.
// telemetry.OTelTracer implements it.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records lifecycle, events, and errors for a traced operation.
// telemetry.OTelTracer's StartSpan returns an implementation of it.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures worker pool telemetry events. telemetry.OTelMetrics
// and telemetry.PrometheusMetrics implement it.
type MetricHook interface {
	WorkerStarted(attrs map[string]string)
	WorkerStopped(attrs map[string]string)
	WorkerPollError(kind string, err error, attrs map[string]string)
	WriteCompleted(attrs map[string]string)
	WriteFailed(err error, attrs map[string]string)
	VectorReceived(attrs map[string]string)
	VectorFailed(err error, attrs map[string]string)
}

func (c *Config) debugf(format string, args ...any) {
	if c != nil && c.Logger != nil {
		c.Logger.Debugf(format, args...)
	}
}

func (c *Config) debugw(msg string, keyvals ...any) {
	if c != nil && c.StructuredLogger != nil {
		c.StructuredLogger.Debugw(msg, keyvals...)
	}
}

func (c *Config) startSpan(name string, attrs ...TraceAttribute) Span {
	if c == nil || c.Tracer == nil {
		return noopSpan{}
	}
	return c.Tracer.StartSpan(name, attrs...)
}

func (c *Config) metrics() MetricHook {
	if c == nil {
		return nil
	}
	return c.Metrics
}

type noopSpan struct{}

func (noopSpan) End(error)                          {}
func (noopSpan) AddEvent(string, ...TraceAttribute) {}
func (noopSpan) RecordError(error)                  {}

const defaultDepth = 16

func (c *Config) depth() int {
	if c == nil || c.Depth <= 0 {
		return defaultDepth
	}
	return c.Depth
}

const defaultMaxWorkers = 8

func (c *Config) maxWorkers() int {
	if c == nil || c.MaxWorkers <= 0 {
		return defaultMaxWorkers
	}
	return c.MaxWorkers
}
