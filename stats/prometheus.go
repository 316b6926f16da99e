package stats

import "github.com/prometheus/client_golang/prometheus"

// PrometheusExporter optionally exposes the same per-replica counters
// Record captures as live gauges/counters, for operators run under a
// process that already serves a /metrics endpoint. Registration is
// deliberately opt-in: most runs only want the JSON file (spec §6).
type PrometheusExporter struct {
	inputsReceived *prometheus.CounterVec
	outputsSent    *prometheus.CounterVec
	serviceTime    *prometheus.HistogramVec
}

// NewPrometheusExporter registers its collectors on reg and returns an
// exporter that every operator can share: each observation is labelled
// with its operator name and replica index.
func NewPrometheusExporter(reg prometheus.Registerer) (*PrometheusExporter, error) {
	e := &PrometheusExporter{
		inputsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parastream_replica_inputs_received_total",
			Help: "Total envelopes received by a replica.",
		}, []string{"operator", "replica"}),
		outputsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parastream_replica_outputs_sent_total",
			Help: "Total envelopes emitted by a replica.",
		}, []string{"operator", "replica"}),
		serviceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parastream_replica_service_time_microseconds",
			Help:    "Per-item service time observed by a replica.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}, []string{"operator", "replica"}),
	}
	for _, c := range []prometheus.Collector{e.inputsReceived, e.outputsSent, e.serviceTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ObserveInput increments the inputs-received counter for operator/replica.
func (e *PrometheusExporter) ObserveInput(operator, replica string) {
	e.inputsReceived.WithLabelValues(operator, replica).Inc()
}

// ObserveOutput increments the outputs-sent counter for operator/replica.
func (e *PrometheusExporter) ObserveOutput(operator, replica string) {
	e.outputsSent.WithLabelValues(operator, replica).Inc()
}

// ObserveServiceTimeMicros records one service-time sample in microseconds.
func (e *PrometheusExporter) ObserveServiceTimeMicros(operator, replica string, micros float64) {
	e.serviceTime.WithLabelValues(operator, replica).Observe(micros)
}
