package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus-метрики пайплайна симуляций.
//
// Регистрируются в default registry через NewMetrics().
// Для тестов используйте NewMetricsForTesting() — отдельные
// коллекторы без регистрации, чтобы избежать паники
// "duplicate metrics collector registration".
type Metrics struct {
	// RunsTotal — количество завершённых runs по статусу (succeeded, failed).
	RunsTotal *prometheus.CounterVec

	// RunDuration — длительность полного пайплайна в секундах.
	RunDuration prometheus.Histogram

	// StageDuration — длительность отдельных этапов (publish, wait, pull, stage, simulate, extract).
	StageDuration *prometheus.HistogramVec

	// StageFailures — количество ошибок по этапам.
	StageFailures *prometheus.CounterVec

	// PublishWaitDuration — сколько ждали готовности publish-сервиса.
	PublishWaitDuration prometheus.Histogram

	// RunsInFlight — количество выполняющихся runs.
	RunsInFlight prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rise",
			Name:      "runs_total",
			Help:      "Completed simulation runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rise",
			Name:      "run_duration_seconds",
			Help:      "Duration of the full simulation pipeline.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rise",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 1800},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rise",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		PublishWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rise",
			Name:      "publish_wait_duration_seconds",
			Help:      "Time spent polling the publish service for readiness.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120},
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rise",
			Name:      "runs_in_flight",
			Help:      "Number of simulation runs currently executing.",
		}),
	}
}

// NewMetrics создаёт метрики и регистрирует их в default registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.StageFailures,
		m.PublishWaitDuration,
		m.RunsInFlight,
	)

	return m
}

// NewMetricsForTesting создаёт метрики без регистрации в default registry.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
