// Package metrics holds the Prometheus collectors shared by the pipeline,
// the keystore wiring and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "useradmin"

// Verification outcomes used as the "result" label.
const (
	ResultValid     = "valid"
	ResultInvalid   = "invalid"
	ResultMalformed = "malformed"
)

type Metrics struct {
	Signatures        prometheus.Counter
	SignatureFailures prometheus.Counter
	Verifications     *prometheus.CounterVec // by result
	Exports           prometheus.Counter
	ExportedRecords   prometheus.Counter
	KeyRotations      prometheus.Counter
	Requests          *prometheus.CounterVec   // by method, route and status code
	RequestDuration   *prometheus.HistogramVec // by method and route
	RateLimited       prometheus.Counter
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Signatures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "number of email hashes signed",
		}),
		SignatureFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_failures_total",
			Help:      "number of signing attempts that failed",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "number of record signature checks by result",
		}, []string{"result"}),
		Exports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "number of binary exports produced",
		}),
		ExportedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_records_total",
			Help:      "number of records written to binary exports",
		}),
		KeyRotations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "number of signing key rotations",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "number of HTTP requests served",
		}, []string{"method", "route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "number of write requests rejected by the rate limiter",
		}),
	}
}
