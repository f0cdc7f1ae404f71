package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "campaign_engine"
	unknownLabel     = "unknown"
	unmatchedRoute   = "unmatched"
	metricsRoute     = "/metrics"
)

// Metrics holds the collectors of the API, dispatch, redirect and webhook flows.
// Every recording method is a no-op on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	sendsTotal           *prometheus.CounterVec
	sendFailuresTotal    *prometheus.CounterVec
	providerSendDuration *prometheus.HistogramVec
	dispatchInflight     *prometheus.GaugeVec
	linkClicksTotal      *prometheus.CounterVec
	repliesTotal         *prometheus.CounterVec
	dispatchJobsTotal    *prometheus.CounterVec
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: counter("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),
		sendsTotal: counter("sends_total",
			"Recipient sends accepted by the provider.", "channel"),
		sendFailuresTotal: counter("send_failures_total",
			"Recipients skipped during dispatch by reason.", "channel", "reason"),
		providerSendDuration: histogram("provider_send_duration_seconds",
			"Provider call latency by channel.", prometheus.ExponentialBuckets(0.01, 2, 12), "channel"),
		dispatchInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_inflight",
			Help:      "Provider calls currently in flight by channel.",
		}, []string{"channel"}),
		linkClicksTotal: counter("link_clicks_total",
			"Resolved tracked-link redirects by channel.", "channel"),
		repliesTotal: counter("replies_total",
			"Inbound provider events by kind and correlation outcome.", "kind", "outcome"),
		dispatchJobsTotal: counter("dispatch_jobs_total",
			"Dispatch runs by trigger and result.", "trigger", "result"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sendsTotal,
		m.sendFailuresTotal,
		m.providerSendDuration,
		m.dispatchInflight,
		m.linkClicksTotal,
		m.repliesTotal,
		m.dispatchJobsTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records every request except scrapes. Handler errors are
// rendered through the app's ErrorHandler first so the recorded status is the
// one the client sees.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if handleErr := c.App().Config().ErrorHandler(c, err); handleErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		path := routePath(c)
		if path != metricsRoute {
			m.recordHTTPRequest(c.Method(), path, c.Response().StatusCode(), time.Since(start))
		}
		return nil
	}
}

func (m *Metrics) IncSend(channel string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncSendFailure(channel string, reason string) {
	if m == nil {
		return
	}
	m.sendFailuresTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveProviderSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) IncLinkClick(channel string) {
	if m == nil {
		return
	}
	m.linkClicksTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncReply(kind string, outcome string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncDispatchJob(trigger string, result string) {
	if m == nil {
		return
	}
	m.dispatchJobsTotal.WithLabelValues(normalizeLabel(trigger), normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = strings.ToUpper(unknownLabel)
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, path).Observe(duration.Seconds())
}

// routePath labels by route template, not raw URL, to keep cardinality bounded.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return unmatchedRoute
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return unknownLabel
	}
	return normalized
}
