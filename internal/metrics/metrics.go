// Package metrics defines custom Prometheus metrics for bucketwalk.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for object size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Operation names used as the "operation" label.
const (
	OpCreateBucket   = "CreateBucket"
	OpUploadObject   = "UploadObject"
	OpDownloadObject = "DownloadObject"
	OpCopyObject     = "CopyObject"
	OpDeleteObject   = "DeleteObject"
	OpWaitObject     = "WaitForObject"
	OpWaitObjectGone = "WaitForObjectGone"
)

// Facade operation metrics.
var (
	// OperationsTotal counts facade operations by operation name and status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketwalk_operations_total",
			Help: "Storage operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration observes operation latency in seconds, including
	// the provider round trip.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketwalk_operation_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ObjectSize observes the size of uploaded and downloaded objects.
	ObjectSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketwalk_object_size_bytes",
			Help:    "Transferred object size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"operation"},
	)

	// BucketsCreatedTotal counts buckets created by this process.
	BucketsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketwalk_buckets_created_total",
			Help: "Buckets created",
		},
	)

	// BytesUploadedTotal counts object bytes sent to the provider.
	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketwalk_bytes_uploaded_total",
			Help: "Total object bytes uploaded",
		},
	)

	// BytesDownloadedTotal counts object bytes received from the provider.
	BytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketwalk_bytes_downloaded_total",
			Help: "Total object bytes downloaded",
		},
	)
)

// HTTP metrics for the ops listener.
var (
	// HTTPRequestsTotal counts ops listener requests by method, route and
	// status. The route is the huma operation ID where one served the request.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketwalk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketwalk_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			ObjectSize,
			BucketsCreatedTotal,
			BytesUploadedTotal,
			BytesDownloadedTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// ObserveOperation records the outcome and duration of one operation.
func ObserveOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// NormalizePath maps request paths to a fixed set of labels so arbitrary
// URLs cannot inflate metric cardinality.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json", "/openapi.yaml":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}
	// Stoplight Elements assets.
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/schemas/") {
		return "/schemas"
	}
	return "/other"
}
