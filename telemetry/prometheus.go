package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyoklee/fabtsuite/xfer"
)

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ xfer.MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters,
// intended to be served over /metrics by the CLI.
type PrometheusMetrics struct {
	workerStarted   *prometheus.CounterVec
	workerStopped   *prometheus.CounterVec
	workerPollError *prometheus.CounterVec
	writeCompleted  *prometheus.CounterVec
	writeFailed     *prometheus.CounterVec
	vectorReceived  *prometheus.CounterVec
	vectorFailed    *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		workerStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_worker_started_total",
			Help:        "Number of times a worker's outer loop started servicing sessions",
			ConstLabels: opts.ConstLabels,
		}, workerLabelKeys),
		workerStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_worker_stopped_total",
			Help:        "Number of times a worker went idle or was cancelled",
			ConstLabels: opts.ConstLabels,
		}, workerLabelKeys),
		workerPollError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_worker_poll_errors_total",
			Help:        "Number of poll-set errors surfaced while running a worker pass",
			ConstLabels: opts.ConstLabels,
		}, pollErrorLabelKeys),
		writeCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_rma_write_completed_total",
			Help:        "Number of RDMA write completions observed by a transmitter",
			ConstLabels: opts.ConstLabels,
		}, completionLabelKeys),
		writeFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_rma_write_failed_total",
			Help:        "Number of errored RDMA write completions",
			ConstLabels: opts.ConstLabels,
		}, failureLabelKeys),
		vectorReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_vector_received_total",
			Help:        "Number of well-formed vector advertisements received",
			ConstLabels: opts.ConstLabels,
		}, completionLabelKeys),
		vectorFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "fabtsuite_vector_failed_total",
			Help:        "Number of malformed vector advertisements received",
			ConstLabels: opts.ConstLabels,
		}, failureLabelKeys),
	}

	var err error
	if p.workerStarted, err = registerCounterVec(reg, p.workerStarted); err != nil {
		return nil, err
	}
	if p.workerStopped, err = registerCounterVec(reg, p.workerStopped); err != nil {
		return nil, err
	}
	if p.workerPollError, err = registerCounterVec(reg, p.workerPollError); err != nil {
		return nil, err
	}
	if p.writeCompleted, err = registerCounterVec(reg, p.writeCompleted); err != nil {
		return nil, err
	}
	if p.writeFailed, err = registerCounterVec(reg, p.writeFailed); err != nil {
		return nil, err
	}
	if p.vectorReceived, err = registerCounterVec(reg, p.vectorReceived); err != nil {
		return nil, err
	}
	if p.vectorFailed, err = registerCounterVec(reg, p.vectorFailed); err != nil {
		return nil, err
	}

	return p, nil
}

var (
	workerLabelKeys     = []string{labelEndpointType, labelProvider, labelNode, labelService}
	pollErrorLabelKeys  = []string{labelEndpointType, labelProvider, labelNode, labelService, labelKind}
	completionLabelKeys = []string{labelEndpointType, labelProvider, labelNode, labelService, labelOperation, labelStatus}
	failureLabelKeys    = []string{labelEndpointType, labelProvider, labelNode, labelService, labelOperation}
)

func (p *PrometheusMetrics) WorkerStarted(attrs map[string]string) {
	p.workerStarted.With(labels(attrs, workerLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) WorkerStopped(attrs map[string]string) {
	p.workerStopped.With(labels(attrs, workerLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) WorkerPollError(kind string, _ error, attrs map[string]string) {
	labs := labels(attrs, pollErrorLabelKeys...)
	labs[labelKind] = kind
	p.workerPollError.With(labs).Inc()
}

func (p *PrometheusMetrics) WriteCompleted(attrs map[string]string) {
	p.writeCompleted.With(labels(attrs, completionLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) WriteFailed(_ error, attrs map[string]string) {
	p.writeFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) VectorReceived(attrs map[string]string) {
	p.vectorReceived.With(labels(attrs, completionLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) VectorFailed(_ error, attrs map[string]string) {
	p.vectorFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
