// Package metrics exposes Prometheus collectors for the checkpoint. All
// methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	scansTotal        *prometheus.CounterVec
	verifyDuration    *prometheus.HistogramVec
	doorCyclesTotal   prometheus.Counter
	systemActive      prometheus.Gauge
	activeSessions    prometheus.Gauge
	wsClients         prometheus.Gauge
	sinkFailuresTotal *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkpoint_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkpoint_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkpoint_scans_total",
				Help: "Card scans by outcome",
			},
			[]string{"outcome"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkpoint_verification_duration_seconds",
				Help:    "Liveness verification duration by result",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"result"},
		),
		doorCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_door_cycles_total",
			Help: "Completed unlock/lock cycles",
		}),
		systemActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_system_active",
			Help: "1 while the gate is awake",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_active_sessions",
			Help: "Open attendance sessions",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_ws_clients",
			Help: "Connected event-channel clients",
		}),
		sinkFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkpoint_sink_failures_total",
				Help: "Failed attendance sink deliveries",
			},
			[]string{"sink"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal, m.httpRequestDuration,
		m.scansTotal, m.verifyDuration, m.doorCyclesTotal,
		m.systemActive, m.activeSessions, m.wsClients, m.sinkFailuresTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) ScanOutcome(outcome string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVerification(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) DoorCycle() {
	if m == nil {
		return
	}
	m.doorCyclesTotal.Inc()
}

func (m *Metrics) SetSystemActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.systemActive.Set(1)
	} else {
		m.systemActive.Set(0)
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) WSClientDelta(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

func (m *Metrics) SinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailuresTotal.WithLabelValues(sink).Inc()
}
