// Package metrics provides a minimal instrumentation interface with a no-op
// default and a Prometheus-backed implementation.
package metrics

import (
	"sync"
	"time"
)

// Match outcomes reported by the detector.
const (
	OutcomePending    = "pending"
	OutcomeAutoMerged = "auto_merged"
	OutcomeDowngraded = "downgraded"
	OutcomeSuppressed = "suppressed"
	OutcomeDuplicate  = "duplicate"
)

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	IncIngested(n int)
	IncMatch(outcome string)
	IncDecision(decision string)
	IncClassification(category string)
	SetBackend(name string)
	ObserveIngestSeconds(seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) IncIngested(int)              {}
func (noopRecorder) IncMatch(string)              {}
func (noopRecorder) IncDecision(string)           {}
func (noopRecorder) IncClassification(string)     {}
func (noopRecorder) SetBackend(string)            {}
func (noopRecorder) ObserveIngestSeconds(float64) {}

// Noop returns a recorder that discards everything.
func Noop() Recorder { return noopRecorder{} }

var (
	recMu    sync.RWMutex
	recorder Recorder = noopRecorder{}
)

// Default returns the current process-wide recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the process-wide recorder. A nil r restores the no-op.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = noopRecorder{}
	}
	recorder = r
}

// TimeIngest returns a func that records the elapsed time when called.
func TimeIngest(r Recorder) func() {
	start := time.Now()
	return func() {
		r.ObserveIngestSeconds(time.Since(start).Seconds())
	}
}
