package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes as recorded by the consumer loop
const (
	OutcomeAck  = "ack"
	OutcomeNack = "nack"
	OutcomeDrop = "drop"
)

// MetricsCollector holds the pipeline metrics on a private registry.
// A nil collector is valid and records nothing.
type MetricsCollector struct {
	registry *prometheus.Registry

	webhookTotal       *prometheus.CounterVec
	jobTotal           *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	transitionTotal    *prometheus.CounterVec
	followUpDeferred   *prometheus.CounterVec
	reconcileTotal     *prometheus.CounterVec
	notificationTotal  *prometheus.CounterVec
	stockTotal         *prometheus.CounterVec
	cacheTotal         *prometheus.CounterVec
	httpRequestTotal   *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// NewMetricsCollector creates a collector whose metric names are prefixed by namespace
func NewMetricsCollector(namespace string) *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &MetricsCollector{
		registry: reg,
		webhookTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_received_total",
			Help:      "Webhook notifications by event type and how they were handed off",
		}, []string{"type", "outcome"}),
		jobTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs settled by queue, job type and outcome",
		}, []string{"queue", "type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from delivery to settlement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		transitionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Persisted order status transitions",
		}, []string{"from", "to"}),
		followUpDeferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_up_deferred_total",
			Help:      "Follow-up jobs stored for republish after a failed enqueue",
		}, []string{"route"}),
		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_republished_total",
			Help:      "Pending jobs handled by the reconciliation sweep",
		}, []string{"outcome"}),
		notificationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery result",
		}, []string{"kind", "outcome"}),
		stockTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_batches_total",
			Help:      "Stock decrement batches by result",
		}, []string{"outcome"}),
		cacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by key namespace and result",
		}, []string{"namespace", "result"}),
		httpRequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		httpRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry exposes the underlying registry
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the prometheus exposition format
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

func (mc *MetricsCollector) RecordWebhook(eventType, outcome string) {
	if mc == nil {
		return
	}
	mc.webhookTotal.WithLabelValues(eventType, outcome).Inc()
}

func (mc *MetricsCollector) RecordJob(queue, jobType, outcome string, d time.Duration) {
	if mc == nil {
		return
	}
	mc.jobTotal.WithLabelValues(queue, jobType, outcome).Inc()
	mc.jobDuration.WithLabelValues(queue).Observe(d.Seconds())
}

func (mc *MetricsCollector) RecordTransition(from, to string) {
	if mc == nil {
		return
	}
	mc.transitionTotal.WithLabelValues(from, to).Inc()
}

func (mc *MetricsCollector) RecordDeferred(route string) {
	if mc == nil {
		return
	}
	mc.followUpDeferred.WithLabelValues(route).Inc()
}

func (mc *MetricsCollector) RecordReconcile(outcome string) {
	if mc == nil {
		return
	}
	mc.reconcileTotal.WithLabelValues(outcome).Inc()
}

func (mc *MetricsCollector) RecordNotification(kind, outcome string) {
	if mc == nil {
		return
	}
	mc.notificationTotal.WithLabelValues(kind, outcome).Inc()
}

func (mc *MetricsCollector) RecordStockBatch(outcome string) {
	if mc == nil {
		return
	}
	mc.stockTotal.WithLabelValues(outcome).Inc()
}

// CacheHit and CacheMiss satisfy cache.Recorder
func (mc *MetricsCollector) CacheHit(namespace string) {
	if mc == nil {
		return
	}
	mc.cacheTotal.WithLabelValues(namespace, "hit").Inc()
}

func (mc *MetricsCollector) CacheMiss(namespace string) {
	if mc == nil {
		return
	}
	mc.cacheTotal.WithLabelValues(namespace, "miss").Inc()
}

func (mc *MetricsCollector) RecordHTTPRequest(method, path, status string, d time.Duration) {
	if mc == nil {
		return
	}
	mc.httpRequestTotal.WithLabelValues(method, path, status).Inc()
	mc.httpRequestLatency.WithLabelValues(method, path).Observe(d.Seconds())
}
