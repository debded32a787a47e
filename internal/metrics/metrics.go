// Package metrics exposes Prometheus collectors for probes, alerts and the
// notification queue. Each Metrics owns its registry so tests and multiple
// instances never collide on the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uptimebot"

type Metrics struct {
	reg *prometheus.Registry

	probesTotal        *prometheus.CounterVec
	probeDuration      prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	benchmarkValue     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "TCP probes by result",
			},
			[]string{"result"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Connect time of successful TCP probes",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification delivery outcomes (sent, failed attempt, dropped)",
			},
			[]string{"outcome"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alert and recovery notifications enqueued",
			},
			[]string{"kind"},
		),
		benchmarkValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "benchmark_value_seconds",
				Help:      "Latest CPU benchmark value of the watched provider",
			},
		),
	}
	m.reg.MustRegister(
		m.probesTotal,
		m.probeDuration,
		m.notificationsTotal,
		m.alertsTotal,
		m.benchmarkValue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterQueueDepth exposes depth() as uptimebot_queue_depth.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Notifications waiting in the delivery queue",
		},
		func() float64 { return float64(depth()) },
	))
}

// ObserveProbe implements monitor.Observer.
func (m *Metrics) ObserveProbe(success bool, elapsed time.Duration) {
	if !success {
		m.probesTotal.WithLabelValues("failure").Inc()
		return
	}
	m.probesTotal.WithLabelValues("success").Inc()
	m.probeDuration.Observe(elapsed.Seconds())
}

// ObserveAlert implements monitor.Observer.
func (m *Metrics) ObserveAlert(kind string) { m.alertsTotal.WithLabelValues(kind).Inc() }

// ObserveNotification implements notifier.Observer.
func (m *Metrics) ObserveNotification(outcome string) {
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBenchmark records the latest benchmark reading.
func (m *Metrics) ObserveBenchmark(value float64) { m.benchmarkValue.Set(value) }
