// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted   prometheus.Counter
	stageTransitions  *prometheus.CounterVec
	pipelineFailures  *prometheus.CounterVec
	jobsDeadLettered  prometheus.Counter
	activeSubscribers prometheus.Gauge
	broadcastErrors   *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swapflow",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the submission path.",
		}),
		stageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapflow",
			Name:      "order_stage_transitions_total",
			Help:      "Order status updates recorded by the workers.",
		}, []string{"status"}),
		pipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapflow",
			Name:      "pipeline_failures_total",
			Help:      "Failed pipeline attempts by stage.",
		}, []string{"stage"}),
		jobsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swapflow",
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs that exhausted their attempts.",
		}),
		activeSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swapflow",
			Name:      "active_subscribers",
			Help:      "Live update connections currently registered.",
		}),
		broadcastErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapflow",
			Name:      "broadcast_errors_total",
			Help:      "Progress events that could not be published or delivered.",
		}, []string{"reason"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swapflow",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

func (m *Metrics) StageTransition(status string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) PipelineFailure(stage string) {
	if m == nil {
		return
	}
	m.pipelineFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) JobDeadLettered() {
	if m == nil {
		return
	}
	m.jobsDeadLettered.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.activeSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.activeSubscribers.Dec()
}

// BroadcastError counts a lost progress event. reason is "publish",
// "decode" or "deliver".
func (m *Metrics) BroadcastError(reason string) {
	if m == nil {
		return
	}
	m.broadcastErrors.WithLabelValues(reason).Inc()
}
