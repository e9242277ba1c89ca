// Package metrics holds the Prometheus collectors exported by the registrar.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_operations_total",
		Help: "Registration operations by operation, chosen action, and result.",
	}, []string{"operation", "action", "result"})

	caRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_ca_requests_total",
		Help: "Requests sent to the Puppet CA proxy by method and outcome.",
	}, []string{"method", "outcome"})

	auditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrar_audit_entries_total",
		Help: "Total audit ledger entries appended.",
	})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "registrar_dependency_up",
		Help: "Result of the last readiness check per dependency (1 = up).",
	}, []string{"dependency"})
)

// Middleware returns a Gin middleware that records per-request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordOperation records the terminal outcome of a registration operation.
func RecordOperation(operation, action string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	operationsTotal.WithLabelValues(operation, action, result).Inc()
}

// RecordCARequest records one request to the CA proxy.
func RecordCARequest(method, outcome string) {
	caRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordAuditAppend records an audit ledger append.
func RecordAuditAppend() {
	auditEntriesTotal.Inc()
}

// RecordHealthCheck records the latest readiness check result.
func RecordHealthCheck(dependency string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	dependencyUp.WithLabelValues(dependency).Set(v)
}
