package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics tracks retries and responses of the catalog HTTP client.
type TransportMetrics struct {
	retries   *prometheus.CounterVec
	responses *prometheus.CounterVec
}

// NewTransportMetrics registers the transport metrics on the provided registerer.
func NewTransportMetrics(reg prometheus.Registerer) *TransportMetrics {
	if reg == nil {
		return &TransportMetrics{}
	}
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_http_retries_total",
		Help: "Retried Admin API calls, by reason.",
	}, []string{"reason"})
	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_http_responses_total",
		Help: "Admin API responses, by method and status code.",
	}, []string{"method", "code"})
	reg.MustRegister(retries, responses)
	return &TransportMetrics{retries: retries, responses: responses}
}

// IncRetry counts one retry. reason is a status code or "connection".
func (m *TransportMetrics) IncRetry(reason string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *TransportMetrics) ObserveResponse(method string, status int) {
	if m == nil || m.responses == nil {
		return
	}
	m.responses.WithLabelValues(normalizeLabel(method), strconv.Itoa(status)).Inc()
}
