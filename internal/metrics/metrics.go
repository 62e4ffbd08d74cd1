// metrics.go: Prometheus metrics for the analysis API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Path is where the exposition handler is mounted.
const Path = "/metrics"

type Metrics struct {
	registry *prometheus.Registry

	Predictions      *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	RateLimited      prometheus.Counter
	ClassifyDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waste_predictions_total",
			Help: "Successful classifications partitioned by label and category.",
		}, []string{"label", "category"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waste_prediction_failures_total",
			Help: "Failed predict requests partitioned by error kind.",
		}, []string{"kind"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waste_rate_limited_total",
			Help: "Anonymous uploads rejected by the rate limiter.",
		}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "waste_classify_duration_seconds",
			Help:    "Time spent in the classifier.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waste_http_requests_total",
			Help: "HTTP requests partitioned by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waste_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Predictions, m.Failures, m.RateLimited, m.ClassifyDuration, m.HTTPRequests, m.HTTPDuration,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePrediction counts a successful classification.
func (m *Metrics) ObservePrediction(label, category string, took time.Duration) {
	m.Predictions.WithLabelValues(label, category).Inc()
	m.ClassifyDuration.Observe(took.Seconds())
}

// ObserveFailure counts a failed predict request.
func (m *Metrics) ObserveFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// ObserveRateLimited counts a rejected anonymous upload.
func (m *Metrics) ObserveRateLimited() {
	m.RateLimited.Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}
