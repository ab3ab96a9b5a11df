package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	readingsIngested  prometheus.Counter
	readingsRejected  *prometheus.CounterVec
	readingsCompacted prometheus.Counter
	ticks             *prometheus.CounterVec
	tickErrors        prometheus.Counter
	detections        *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	cyclesClosed      *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	remainingDays     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spray_readings_ingested_total",
			Help: "Readings appended to the telemetry store.",
		}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_readings_rejected_total",
			Help: "Telemetry lines dropped before reaching the store, by source.",
		}, []string{"source"}),
		readingsCompacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spray_readings_compacted_total",
			Help: "Idle readings removed by retention compaction.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_monitor_ticks_total",
			Help: "Monitoring ticks by window classification.",
		}, []string{"transition"}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spray_monitor_tick_errors_total",
			Help: "Ticks abandoned because a store was unavailable.",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_detector_runs_total",
			Help: "Detector invocations by detector and outcome.",
		}, []string{"detector", "outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_alerts_total",
			Help: "Alerts appended to the alert log.",
		}, []string{"nominal"}),
		cyclesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_cycles_closed_total",
			Help: "Live cycles finalized by the online segmenter.",
		}, []string{"pump"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spray_job_runs_total",
			Help: "Batch operation runs by operation and result.",
		}, []string{"op", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spray_job_duration_seconds",
			Help:    "Batch operation duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		remainingDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spray_maintenance_remaining_days",
			Help: "Days until the projected end of a maintenance window.",
		}, []string{"kind", "pump"}),
	}
	reg.MustRegister(
		m.readingsIngested, m.readingsRejected, m.readingsCompacted, m.ticks, m.tickErrors,
		m.detections, m.alerts, m.cyclesClosed, m.jobRuns, m.jobDuration,
		m.remainingDays,
	)
	return m
}

func (m *Metrics) ReadingIngested() {
	if m != nil {
		m.readingsIngested.Inc()
	}
}

func (m *Metrics) ReadingRejected(source string) {
	if m != nil {
		m.readingsRejected.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ReadingsCompacted(n int64) {
	if m != nil && n > 0 {
		m.readingsCompacted.Add(float64(n))
	}
}

func (m *Metrics) Tick(transition string) {
	if m != nil {
		m.ticks.WithLabelValues(transition).Inc()
	}
}

func (m *Metrics) TickError() {
	if m != nil {
		m.tickErrors.Inc()
	}
}

func (m *Metrics) Detection(detector, outcome string) {
	if m != nil {
		m.detections.WithLabelValues(detector, outcome).Inc()
	}
}

func (m *Metrics) Alert(nominal bool) {
	if m == nil {
		return
	}
	label := "false"
	if nominal {
		label = "true"
	}
	m.alerts.WithLabelValues(label).Inc()
}

func (m *Metrics) CycleClosed(pump string) {
	if m != nil {
		m.cyclesClosed.WithLabelValues(pump).Inc()
	}
}

// JobFinished records one batch run. err == nil counts as ok.
func (m *Metrics) JobFinished(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(op, result).Inc()
	m.jobDuration.WithLabelValues(op).Observe(d.Seconds())
}

// JobRejected records a run refused because the same operation was running.
func (m *Metrics) JobRejected(op string) {
	if m != nil {
		m.jobRuns.WithLabelValues(op, "in_progress").Inc()
	}
}

func (m *Metrics) RemainingDays(kind, pump string, days float64) {
	if m != nil {
		m.remainingDays.WithLabelValues(kind, pump).Set(days)
	}
}
