// Package metrics records task and reload activity. The scheduler and the
// watch coordinator talk to the Recorder interface; the dev server exposes
// the Prometheus implementation on /metrics.
package metrics

import (
	"time"
)

// Outcome labels used for task and build counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveTask(task string, d time.Duration, outcome string)
	ObserveBuild(d time.Duration, failed bool)
	AddFilesWritten(task string, n int)
	IncReload(kind string)
}

// NoopRecorder drops everything.
type NoopRecorder struct{}

func (NoopRecorder) ObserveTask(string, time.Duration, string) {}
func (NoopRecorder) ObserveBuild(time.Duration, bool)          {}
func (NoopRecorder) AddFilesWritten(string, int)               {}
func (NoopRecorder) IncReload(string)                          {}

var _ Recorder = NoopRecorder{}
