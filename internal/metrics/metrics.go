// Package metrics records Prometheus metrics for snippet runs and module loads.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess        = "success"
	OutcomeAnalysisError  = "analysis_error"
	OutcomeExecutionError = "execution_error"
)

// DurationBuckets covers short snippets up to slow module fetches, 1ms to 30s.
var DurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

// Recorder holds the metric vectors of one registry.
type Recorder struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	BindingsDiscovered prometheus.Histogram
	ModuleLoadsTotal   *prometheus.CounterVec
}

// New creates a Recorder and registers it with reg. A nil reg leaves the
// metrics unregistered but still usable.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsglobals_runs_total",
				Help: "Snippet runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsglobals_run_duration_seconds",
				Help:    "Snippet run duration",
				Buckets: DurationBuckets,
			},
			[]string{"strategy"},
		),
		BindingsDiscovered: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsglobals_bindings_discovered",
				Help:    "Number of top-level bindings found per analysis",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		ModuleLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsglobals_module_loads_total",
				Help: "Module loads by format and outcome",
			},
			[]string{"format", "outcome"},
		),
	}

	if reg == nil {
		return r, nil
	}

	var err error
	if r.RunsTotal, err = register(reg, r.RunsTotal); err != nil {
		return nil, err
	}
	if r.RunDuration, err = register(reg, r.RunDuration); err != nil {
		return nil, err
	}
	if r.BindingsDiscovered, err = register(reg, r.BindingsDiscovered); err != nil {
		return nil, err
	}
	if r.ModuleLoadsTotal, err = register(reg, r.ModuleLoadsTotal); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, reusing the collector already registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Discard returns an unregistered Recorder.
func Discard() *Recorder {
	r, _ := New(nil)
	return r
}

// ObserveRun records one run.
func (r *Recorder) ObserveRun(strategy, outcome string, elapsed time.Duration) {
	r.RunsTotal.WithLabelValues(strategy, outcome).Inc()
	r.RunDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveBindings records the size of one binding set.
func (r *Recorder) ObserveBindings(n int) {
	r.BindingsDiscovered.Observe(float64(n))
}

// ObserveModuleLoad records one module load.
func (r *Recorder) ObserveModuleLoad(format string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeExecutionError
	}
	r.ModuleLoadsTotal.WithLabelValues(format, outcome).Inc()
}
