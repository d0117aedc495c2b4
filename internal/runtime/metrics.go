package runtime

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	connectionpkg "github.com/drblury/simabus/internal/runtime/connection"
)

// Result label values.
const (
	ResultOK              = "ok"
	ResultEncodeError     = "encode_error"
	ResultConnectionError = "connection_error"
	ResultPublishError    = "publish_error"
	ResultUnknownOutcome  = "unknown_outcome"
	ResultDecodeError     = "decode_error"
	ResultHandlerError    = "handler_error"
)

// Metrics holds the Prometheus collectors of one Service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	connState *prometheus.GaugeVec
	gatherer  prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry, which keeps several services in one process apart.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		private := prometheus.NewRegistry()
		reg, gatherer = private, private
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simabus",
			Name:      "messages_published_total",
			Help:      "Publish calls by topic and result.",
		}, []string{"topic", "result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simabus",
			Name:      "messages_consumed_total",
			Help:      "Delivered messages by topic, consumer group and result.",
		}, []string{"topic", "group", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simabus",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic", "group"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simabus",
			Name:      "connection_state",
			Help:      "Connection state per role: 0 idle, 1 connecting, 2 connected, 3 disconnected.",
		}, []string{"role"}),
		gatherer: gatherer,
	}

	var err error
	if m.published, err = registerOrReuse(reg, m.published); err != nil {
		return nil, err
	}
	if m.consumed, err = registerOrReuse(reg, m.consumed); err != nil {
		return nil, err
	}
	if m.duration, err = registerOrReuse(reg, m.duration); err != nil {
		return nil, err
	}
	if m.connState, err = registerOrReuse(reg, m.connState); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse returns the collector already registered under the same
// descriptor, so two services sharing a registerer share the series.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) observePublish(topic, result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) observeConsume(topic, group, result string, seconds float64) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, group, result).Inc()
	if result != ResultDecodeError {
		m.duration.WithLabelValues(topic, group).Observe(seconds)
	}
}

// ObserveConnection is a connection.StateObserver.
func (m *Metrics) ObserveConnection(role connectionpkg.Role, state connectionpkg.State) {
	if m == nil {
		return
	}
	m.connState.WithLabelValues(string(role)).Set(float64(state))
}

// Handler serves the collected metrics. It answers 404 when the registerer
// cannot be gathered from.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
