package metrics

import "time"

// ResultLabel enumerates unit result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// RunOutcomeLabel enumerates the final status of a run.
type RunOutcomeLabel string

const (
	// RunSuccess means every unit applied cleanly.
	RunSuccess RunOutcomeLabel = "success"
	// RunDegraded means the run completed with at least one failed unit.
	RunDegraded RunOutcomeLabel = "degraded"
	// RunFatal means the base document could not be loaded.
	RunFatal RunOutcomeLabel = "fatal"
	// RunCanceled means the caller abandoned the run.
	RunCanceled RunOutcomeLabel = "canceled"
)

// Recorder defines observability hooks for runs and chain units.
type Recorder interface {
	ObserveUnitDuration(kind string, d time.Duration)
	IncUnitResult(kind string, result ResultLabel)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome RunOutcomeLabel)
	SetTouchedKeys(n int)
	IncPublishSkipped()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveUnitDuration(string, time.Duration) {}
func (NoopRecorder) IncUnitResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveRunDuration(time.Duration)          {}
func (NoopRecorder) IncRunOutcome(RunOutcomeLabel)             {}
func (NoopRecorder) SetTouchedKeys(int)                        {}
func (NoopRecorder) IncPublishSkipped()                        {}
