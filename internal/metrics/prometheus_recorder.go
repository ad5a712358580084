package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "clashchain"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	unitDuration     *prom.HistogramVec
	unitResults      *prom.CounterVec
	runDuration      prom.Histogram
	runOutcome       *prom.CounterVec
	touchedKeys      prom.Gauge
	publishesSkipped prom.Counter
}

// NewPrometheusRecorder constructs the metrics and registers them on reg. A nil
// registry gets a private one, which keeps tests independent.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		unitDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration of individual chain units",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		unitResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "unit_results_total",
			Help:      "Chain unit results by kind and outcome",
		}, []string{"kind", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total enhancement run duration",
			Buckets:   prom.DefBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Enhancement runs by final status",
		}, []string{"outcome"}),
		touchedKeys: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "touched_keys",
			Help:      "Top-level keys touched by the chain in the last run",
		}),
		publishesSkipped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stale_publishes_total",
			Help:      "Results discarded because a newer run already published",
		}),
	}
	reg.MustRegister(pr.unitDuration, pr.unitResults, pr.runDuration, pr.runOutcome, pr.touchedKeys, pr.publishesSkipped)
	return pr
}

func (p *PrometheusRecorder) ObserveUnitDuration(kind string, d time.Duration) {
	if p == nil {
		return
	}
	p.unitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUnitResult(kind string, result ResultLabel) {
	if p == nil {
		return
	}
	p.unitResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcomeLabel) {
	if p == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetTouchedKeys(n int) {
	if p == nil {
		return
	}
	p.touchedKeys.Set(float64(n))
}

func (p *PrometheusRecorder) IncPublishSkipped() {
	if p == nil {
		return
	}
	p.publishesSkipped.Inc()
}
