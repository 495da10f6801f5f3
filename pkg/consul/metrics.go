package consul

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newClientMetrics registers the client collectors on reg. Clients sharing
// a registerer share the collectors.
func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	requests, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppconsul_requests_total",
		Help: "Total requests sent to the Consul agent by method, endpoint, and outcome.",
	}, []string{"method", "endpoint", "status"}))
	if err != nil {
		return nil, err
	}

	duration, err := registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ppconsul_request_duration_seconds",
		Help:    "Request duration in seconds, including blocking waits.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}))
	if err != nil {
		return nil, err
	}

	return &clientMetrics{requests: requests, duration: duration}, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *clientMetrics) observe(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	endpoint := endpointLabel(path)
	m.requests.WithLabelValues(method, endpoint, status).Inc()
	m.duration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// endpointLabel keeps the first two path segments ("/v1/kv/a/b" -> "/v1/kv")
// so that keys and names do not become label values.
func endpointLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

// outcomeLabel names a failed request for the status label.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrOperationAborted):
		return "aborted"
	case errors.Is(err, ErrRequestTimedOut):
		return "timeout"
	default:
		return "error"
	}
}
