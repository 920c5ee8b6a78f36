package pagewatch

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/scheduler"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	reg      *prometheus.Registry
	checks   *prometheus.CounterVec
	changes  prometheus.Counter
	duration prometheus.Histogram
}

func newMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_checks_total",
			Help: "Completed checks by outcome.",
		}, []string{"result"}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewatch_changes_total",
			Help: "Reported page changes.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagewatch_check_duration_seconds",
			Help:    "Duration of one check.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
	m.reg.MustRegister(m.checks, m.changes, m.duration)
	return m
}

// watchTasks exposes the scheduler's task counts as gauges.
func (m *Metrics) watchTasks(s *scheduler.Scheduler) {
	gauge := func(state string, pick func(scheduler.Counts) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pagewatch_tasks",
			Help:        "Registered tasks by state.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(pick(s.Counts())) })
	}
	m.reg.MustRegister(
		gauge("total", func(c scheduler.Counts) int { return c.Total }),
		gauge("enabled", func(c scheduler.Counts) int { return c.Enabled }),
		gauge("armed", func(c scheduler.Counts) int { return c.Armed }),
		gauge("queued", func(c scheduler.Counts) int { return c.Queued }),
		gauge("active", func(c scheduler.Counts) int { return c.Active }),
		gauge("blocked", func(c scheduler.Counts) int { return c.Blocked }),
		gauge("failing", func(c scheduler.Counts) int { return c.Failing }),
	)
}

func (m *Metrics) observe(out task.Outcome) {
	m.checks.WithLabelValues(out.Kind.String()).Inc()
	if out.Kind == task.KindChanged {
		m.changes.Inc()
	}
	if out.Duration > 0 {
		m.duration.Observe(out.Duration.Seconds())
	}
}

// Registry returns the registry holding every pagewatch collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
