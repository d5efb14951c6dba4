// Package metrics exposes dunning and HTTP metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sofia"

// Collector holds the billing service metrics
type Collector struct {
	registry *prometheus.Registry

	Subscriptions   *prometheus.CounterVec
	Passes          *prometheus.CounterVec
	PassDuration    prometheus.Histogram
	LastReviewed    prometheus.Gauge
	Notifications   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPRequestTime *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, including Go runtime metrics
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dunning",
			Name:      "subscriptions_total",
			Help:      "Subscriptions handled by dunning, by outcome",
		}, []string{"outcome"}),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dunning",
			Name:      "passes_total",
			Help:      "Dunning passes, by result",
		}, []string{"result"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dunning",
			Name:      "pass_duration_seconds",
			Help:      "Duration of dunning passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastReviewed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dunning",
			Name:      "last_reviewed",
			Help:      "Subscriptions reviewed by the most recent dunning pass",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dunning",
			Name:      "notifications_total",
			Help:      "Dunning notifications, by result",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		c.Subscriptions,
		c.Passes,
		c.PassDuration,
		c.LastReviewed,
		c.Notifications,
		c.HTTPRequests,
		c.HTTPRequestTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler that serves Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveSubscription counts one subscription outcome
func (c *Collector) ObserveSubscription(outcome string) {
	c.Subscriptions.WithLabelValues(outcome).Inc()
}

// ObservePass records a finished or aborted pass
func (c *Collector) ObservePass(result string, reviewed int, duration time.Duration) {
	c.Passes.WithLabelValues(result).Inc()
	c.PassDuration.Observe(duration.Seconds())
	if result == "success" {
		c.LastReviewed.Set(float64(reviewed))
	}
}

// ObserveNotification counts one notification attempt
func (c *Collector) ObserveNotification(result string) {
	c.Notifications.WithLabelValues(result).Inc()
}

// GinMiddleware records request count and latency using the route template as path label
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := ctx.Request.Method
		c.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPRequestTime.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
