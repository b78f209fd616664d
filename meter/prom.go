package meter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ineyio/askgate"
)

// PromMeter exports gateway events as Prometheus metrics.
type PromMeter struct {
	sends            *prometheus.CounterVec
	endpointRequests *prometheus.CounterVec
	endpointDuration *prometheus.HistogramVec
}

var _ askgate.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter and registers its collectors on reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPromMeter(reg prometheus.Registerer) (*PromMeter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PromMeter{
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "askgate",
				Name:      "sends_total",
				Help:      "Total number of sends by outcome",
			},
			[]string{"plan", "outcome"},
		),
		endpointRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "askgate",
				Name:      "endpoint_requests_total",
				Help:      "Total number of endpoint requests by status",
			},
			[]string{"endpoint", "status"}, // "ok" / "error" / "cancelled"
		),
		endpointDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "askgate",
				Name:      "endpoint_request_duration_seconds",
				Help:      "Endpoint request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"endpoint"},
		),
	}
	for _, c := range []prometheus.Collector{m.sends, m.endpointRequests, m.endpointDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PromMeter) OnResult(e askgate.ResultEvent) {
	status := "error"
	switch {
	case e.Success:
		status = "ok"
	case e.Cancelled:
		status = "cancelled"
	}
	m.endpointRequests.WithLabelValues(e.Endpoint, status).Inc()
	if !e.Cancelled {
		m.endpointDuration.WithLabelValues(e.Endpoint).Observe(e.Duration.Seconds())
	}
}

func (m *PromMeter) OnSend(e askgate.SendEvent) {
	m.sends.WithLabelValues(string(e.Plan), string(e.Outcome)).Inc()
}

// Multi fans events out to several meters.
type Multi []askgate.Meter

var _ askgate.Meter = Multi(nil)

func (ms Multi) OnResult(e askgate.ResultEvent) {
	for _, m := range ms {
		m.OnResult(e)
	}
}

func (ms Multi) OnSend(e askgate.SendEvent) {
	for _, m := range ms {
		m.OnSend(e)
	}
}
