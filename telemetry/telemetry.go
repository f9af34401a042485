// Package telemetry implements xfer's Logger, StructuredLogger, Tracer,
// and MetricHook interfaces against concrete backends (zap, OpenTelemetry,
// Prometheus). The interfaces themselves live in xfer, the way the
// teacher's client package declares Logger/Tracer/MetricHook itself and
// keeps its metrics_otel.go/metrics_prometheus.go adapters in the same
// package; here the backends are large enough (three SDKs) to warrant
// their own package instead, so they satisfy xfer's interfaces from the
// outside.
package telemetry

// Label keys shared by every MetricHook implementation, matching the
// attribute set fi.Info/fi.Endpoint already carry.
const (
	labelEndpointType = "endpoint_type"
	labelProvider     = "provider"
	labelNode         = "node"
	labelService      = "service"
	labelOperation    = "operation"
	labelStatus       = "status"
	labelKind         = "kind"
)
