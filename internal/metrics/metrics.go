// Package metrics exposes build metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/tiwaz/internal/diag"
)

// Build result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds the collectors of one process. Each instance owns its own
// registry so tests do not collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	buildDuration prometheus.Histogram
	builds        *prometheus.CounterVec
	needs         prometheus.Gauge
	warnings      *prometheus.CounterVec
}

// New registers the build collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiwaz_build_duration_seconds",
			Help:    "Duration of complete needs builds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiwaz_builds_total",
			Help: "Number of builds by result",
		}, []string{"result"}),
		needs: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiwaz_needs",
			Help: "Number of needs in the current build",
		}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiwaz_warnings_total",
			Help: "Warnings reported by builds, by kind",
		}, []string{"kind"}),
	}
}

// ObserveBuild records one finished build.
func (m *Metrics) ObserveBuild(d time.Duration, needs int, err error) {
	m.buildDuration.Observe(d.Seconds())
	if err != nil {
		m.builds.WithLabelValues(ResultFailed).Inc()
		return
	}
	m.builds.WithLabelValues(ResultOK).Inc()
	m.needs.Set(float64(needs))
}

// Warn counts one warning; it matches diag.Reporter.OnWarn.
func (m *Metrics) Warn(w diag.Warning) {
	m.warnings.WithLabelValues(w.Kind).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
