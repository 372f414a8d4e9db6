package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds Prometheus metrics collectors
type Collector struct {
	requestDuration prometheus.HistogramVec
	requestTotal    prometheus.CounterVec
	requestSize     prometheus.HistogramVec
	responseSize    prometheus.HistogramVec
	errorTotal      prometheus.CounterVec

	alertsIngested   prometheus.CounterVec
	alertsCorrelated prometheus.Counter
	storePruned      prometheus.Counter
	broadcastClients prometheus.Gauge
}

// NewCollector creates a new metrics collector
func NewCollector(serviceName string) *Collector {
	c := &Collector{
		requestDuration: *prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "endpoint", "status_code"},
		),
		requestTotal: *prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "endpoint", "status_code"},
		),
		requestSize: *prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
			},
			[]string{"service", "method", "endpoint"},
		),
		responseSize: *prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
			},
			[]string{"service", "method", "endpoint", "status_code"},
		),
		errorTotal: *prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"service", "type", "operation"},
		),
		alertsIngested: *prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_ingested_total",
				Help: "Total number of alerts accepted into the pipeline, by source",
			},
			[]string{"source"},
		),
		alertsCorrelated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_correlated_total",
			Help: "Total number of synthetic correlation alerts emitted",
		}),
		storePruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_pruned_total",
			Help: "Total number of times the store retention prune ran",
		}),
		broadcastClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_clients",
			Help: "Current number of connected streaming clients",
		}),
	}

	// Register metrics with Prometheus
	prometheus.MustRegister(&c.requestDuration)
	prometheus.MustRegister(&c.requestTotal)
	prometheus.MustRegister(&c.requestSize)
	prometheus.MustRegister(&c.responseSize)
	prometheus.MustRegister(&c.errorTotal)
	prometheus.MustRegister(&c.alertsIngested)
	prometheus.MustRegister(c.alertsCorrelated)
	prometheus.MustRegister(c.storePruned)
	prometheus.MustRegister(c.broadcastClients)

	return c
}

// RecordAlertIngested increments the ingested-alert counter for a source.
func (c *Collector) RecordAlertIngested(source string) {
	c.alertsIngested.WithLabelValues(source).Inc()
}

// RecordAlertCorrelated increments the synthetic-correlation-alert counter.
func (c *Collector) RecordAlertCorrelated() {
	c.alertsCorrelated.Inc()
}

// RecordStorePruned increments the prune-run counter.
func (c *Collector) RecordStorePruned() {
	c.storePruned.Inc()
}

// SetBroadcastClients sets the current connected-client gauge.
func (c *Collector) SetBroadcastClients(n int) {
	c.broadcastClients.Set(float64(n))
}

// RecordHTTPRequest records metrics for an HTTP request
func (c *Collector) RecordHTTPRequest(serviceName, method, endpoint string, statusCode int, duration time.Duration, requestSize, responseSize int64) {
	statusCodeStr := strconv.Itoa(statusCode)
	
	c.requestDuration.WithLabelValues(serviceName, method, endpoint, statusCodeStr).Observe(duration.Seconds())
	c.requestTotal.WithLabelValues(serviceName, method, endpoint, statusCodeStr).Inc()
	c.requestSize.WithLabelValues(serviceName, method, endpoint).Observe(float64(requestSize))
	c.responseSize.WithLabelValues(serviceName, method, endpoint, statusCodeStr).Observe(float64(responseSize))
}

// RecordError records an error metric
func (c *Collector) RecordError(serviceName, errorType, operation string) {
	c.errorTotal.WithLabelValues(serviceName, errorType, operation).Inc()
}

// HandlerFunc returns a handler function for the /metrics endpoint
func HandlerFunc() gin.HandlerFunc {
	h := promhttp.Handler()
	return gin.WrapH(h)
}

// Middleware creates a Gin middleware for automatic metrics collection
func Middleware(serviceName string, collector *Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		
		// Process request
		c.Next()
		
		// Record metrics
		duration := time.Since(start)
		requestSize := calculateRequestSize(c.Request)
		responseSize := int64(c.Writer.Size())
		
		collector.RecordHTTPRequest(
			serviceName,
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			duration,
			requestSize,
			responseSize,
		)
	}
}

// calculateRequestSize calculates the size of an HTTP request
func calculateRequestSize(r *http.Request) int64 {
	size := int64(0)
	if r.URL != nil {
		size += int64(len(r.URL.String()))
	}
	
	size += int64(len(r.Method))
	size += int64(len(r.Proto))
	
	for name, values := range r.Header {
		size += int64(len(name))
		for _, value := range values {
			size += int64(len(value))
		}
	}
	
	if r.ContentLength > 0 {
		size += r.ContentLength
	}
	
	return size
}