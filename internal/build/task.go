// Package build turns a set of declared tasks into a dependency graph and
// runs it.
//
// A Task either cleans a directory or reads the files selected by its
// PathSpec, passes them through a transform chain and writes the outputs
// beneath its destination. The Graph orders tasks (explicit DependsOn plus
// implicit clean-before-writer edges) and the Scheduler executes them on a
// bounded worker pool, skipping everything downstream of a failure.
package build

import (
	"path"
	"strings"
	"time"

	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/transform"
)

// ReloadMode is how connected clients learn about a task's new outputs.
type ReloadMode string

const (
	// ReloadFull asks clients to reload the page.
	ReloadFull ReloadMode = "reload"
	// ReloadInject hot-swaps changed stylesheets without a reload.
	ReloadInject ReloadMode = "inject"
	// ReloadNone suppresses notifications for the task.
	ReloadNone ReloadMode = "none"
)

// Task is one node of the graph.
type Task struct {
	Name      string
	DependsOn []string
	// Source selects the inputs. Unused by clean tasks.
	Source glob.PathSpec
	Stages transform.Chain
	// Clean is a root-relative directory removed when the task runs. A
	// task with Clean set does nothing else.
	Clean  string
	Reload ReloadMode
	// Watch marks the task for re-execution by the watch coordinator.
	Watch bool
}

// IsClean reports whether t is a clean task.
func (t *Task) IsClean() bool { return t.Clean != "" }

// Dest is the root-relative directory the task writes into or removes.
func (t *Task) Dest() string {
	if t.IsClean() {
		return cleanRel(t.Clean)
	}
	return cleanRel(t.Source.Dest())
}

func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
}

// within reports whether p equals dir or lies beneath it.
func within(p, dir string) bool {
	if dir == "." || dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// Outcome is the final state of a task within one run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// TaskResult records one execution of a task.
type TaskResult struct {
	Task         string
	RunID        string
	FilesWritten []string
	BytesWritten int64
	Duration     time.Duration
	Outcome      Outcome
	// Err carries the failure or skip reason.
	Err error
	// FailedInputs lists source paths whose transform failed.
	FailedInputs []string
}

// Reason is a one-line description of why the task did not succeed.
func (r *TaskResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Failed reports whether the result counts against the run.
func (r *TaskResult) Failed() bool { return r.Outcome != OutcomeSuccess }
