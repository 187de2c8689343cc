package build

import (
	"sync"
	"time"
)

// TaskStatus is the last recorded state of one task.
type TaskStatus struct {
	Task         string
	Outcome      Outcome
	Reason       string
	FilesWritten int
	BytesWritten int64
	Duration     time.Duration
	FinishedAt   time.Time
}

// BuildMetrics tracks run counts and the latest status of every task.
type BuildMetrics struct {
	TotalRuns       int64
	SuccessfulRuns  int64
	FailedRuns      int64
	AverageDuration time.Duration
	TotalDuration   time.Duration
	LastRunID       string
	LastRunAt       time.Time
	tasks           map[string]TaskStatus
	mutex           sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{tasks: make(map[string]TaskStatus)}
}

// RecordTask stores the latest result for a task.
func (bm *BuildMetrics) RecordTask(res *TaskResult) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.tasks[res.Task] = TaskStatus{
		Task:         res.Task,
		Outcome:      res.Outcome,
		Reason:       res.Reason(),
		FilesWritten: len(res.FilesWritten),
		BytesWritten: res.BytesWritten,
		Duration:     res.Duration,
		FinishedAt:   time.Now(),
	}
}

// RecordRun records a finished run in the metrics
func (bm *BuildMetrics) RecordRun(report *Report) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalRuns++
	bm.TotalDuration += report.Duration
	bm.LastRunID = report.RunID
	bm.LastRunAt = time.Now()

	if report.Failed() {
		bm.FailedRuns++
	} else {
		bm.SuccessfulRuns++
	}

	if bm.TotalRuns > 0 {
		bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalRuns)
	}
}

// Snapshot is a copy of BuildMetrics safe to read without locking.
type Snapshot struct {
	TotalRuns       int64
	SuccessfulRuns  int64
	FailedRuns      int64
	AverageDuration time.Duration
	LastRunID       string
	LastRunAt       time.Time
	Tasks           []TaskStatus
}

// GetSnapshot returns a snapshot of current metrics with tasks in the
// order given. Tasks never recorded are omitted.
func (bm *BuildMetrics) GetSnapshot(order []string) Snapshot {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	snap := Snapshot{
		TotalRuns:       bm.TotalRuns,
		SuccessfulRuns:  bm.SuccessfulRuns,
		FailedRuns:      bm.FailedRuns,
		AverageDuration: bm.AverageDuration,
		LastRunID:       bm.LastRunID,
		LastRunAt:       bm.LastRunAt,
	}
	for _, name := range order {
		if st, ok := bm.tasks[name]; ok {
			snap.Tasks = append(snap.Tasks, st)
		}
	}
	return snap
}

// Reset resets all metrics
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalRuns = 0
	bm.SuccessfulRuns = 0
	bm.FailedRuns = 0
	bm.AverageDuration = 0
	bm.TotalDuration = 0
	bm.LastRunID = ""
	bm.LastRunAt = time.Time{}
	bm.tasks = make(map[string]TaskStatus)
}

// GetSuccessRate returns the success rate as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalRuns == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulRuns) / float64(bm.TotalRuns) * 100.0
}
