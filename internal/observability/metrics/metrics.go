package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for the analysis pipeline and the HTTP layer.
type Metrics struct {
	providerTotal   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	analysisTotal   *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	riskTotal       *prometheus.CounterVec
	batchItems      *prometheus.CounterVec
	httpTotal       *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	httpInFlight    prometheus.Gauge
}

var providerBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermascan",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Inference provider attempts by outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dermascan",
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Latency of a single provider attempt",
			Buckets:   providerBuckets,
		}, []string{"provider"}),
		analysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermascan",
			Subsystem: "analysis",
			Name:      "total",
			Help:      "Analyses by input kind and outcome",
		}, []string{"kind", "outcome"}),
		analysisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dermascan",
			Subsystem: "analysis",
			Name:      "latency_seconds",
			Help:      "End-to-end analysis latency",
			Buckets:   providerBuckets,
		}, []string{"kind"}),
		riskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermascan",
			Subsystem: "analysis",
			Name:      "risk_total",
			Help:      "Completed analyses by risk level",
		}, []string{"level"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermascan",
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Batch items by result",
		}, []string{"result"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermascan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dermascan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dermascan",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.providerTotal, m.providerLatency,
		m.analysisTotal, m.analysisLatency, m.riskTotal, m.batchItems,
		m.httpTotal, m.httpLatency, m.httpInFlight,
	)
	return m
}

func (m *Metrics) ObserveProvider(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.providerTotal.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) ObserveAnalysis(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.analysisTotal.WithLabelValues(kind, outcome).Inc()
	m.analysisLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveRisk(level string) {
	if m == nil {
		return
	}
	m.riskTotal.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveBatch(total, failed int) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues("success").Add(float64(total - failed))
	m.batchItems.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) InFlight(delta int) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(float64(delta))
}
