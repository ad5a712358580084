package metrics

import (
	"sync"
	"time"
)

// testRecorder counts calls; shared by tests in other packages through the
// Recorder interface only, so it stays unexported here.
type testRecorder struct {
	mu          sync.Mutex
	unitResults map[string]map[ResultLabel]int
	outcomes    map[RunOutcomeLabel]int
	runs        int
}

func newTestRecorder() *testRecorder {
	return &testRecorder{unitResults: map[string]map[ResultLabel]int{}, outcomes: map[RunOutcomeLabel]int{}}
}

func (t *testRecorder) ObserveUnitDuration(string, time.Duration) {}
func (t *testRecorder) IncUnitResult(kind string, result ResultLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.unitResults[kind]
	if !ok {
		m = map[ResultLabel]int{}
		t.unitResults[kind] = m
	}
	m[result]++
}
func (t *testRecorder) ObserveRunDuration(time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
}
func (t *testRecorder) IncRunOutcome(o RunOutcomeLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[o]++
}
func (t *testRecorder) SetTouchedKeys(int)  {}
func (t *testRecorder) IncPublishSkipped() {}

var (
	_ Recorder = (*testRecorder)(nil)
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)
