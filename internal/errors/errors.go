// Package errors defines the error taxonomy of the build pipeline:
// configuration errors raised before anything runs, per-input transform
// failures, filesystem errors scoped to a single task, and upstream skips.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InputFailure records one input a stage could not transform.
type InputFailure struct {
	Input string
	Err   error
}

// Error implements the error interface.
func (f InputFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Input, f.Err)
}

// TransformError lists every input of a stage that failed. The remaining
// inputs were still transformed.
type TransformError struct {
	Stage    string
	Failures []InputFailure
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("[%s] stage %s: %s", ErrCodeTransformFailed, e.Stage, e.Failures[0].Error())
	}

	inputs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		inputs[i] = f.Input
	}
	return fmt.Sprintf("[%s] stage %s: %d inputs failed: %s",
		ErrCodeTransformFailed, e.Stage, len(e.Failures), strings.Join(inputs, ", "))
}

// Inputs returns the failed input paths.
func (e *TransformError) Inputs() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Input
	}
	return out
}

// Unwrap exposes the per-input causes to errors.Is and errors.As.
func (e *TransformError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// FailedInputs extracts every failed input from err, which may be a
// TransformError or a join of several.
func FailedInputs(err error) []string {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var walk func(error)
	walk = func(e error) {
		var te *TransformError
		if errors.As(e, &te) {
			for _, in := range te.Inputs() {
				seen[in] = struct{}{}
			}
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			if _, isTE := e.(*TransformError); !isTE {
				for _, inner := range joined.Unwrap() {
					walk(inner)
				}
			}
		}
	}
	walk(err)

	out := make([]string, 0, len(seen))
	for in := range seen {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// ErrorCollector gathers per-input failures for one stage. It is safe for
// concurrent use.
type ErrorCollector struct {
	stage    string
	failures []InputFailure
	mutex    sync.Mutex
}

// NewErrorCollector creates a collector for the named stage.
func NewErrorCollector(stage string) *ErrorCollector {
	return &ErrorCollector{
		stage:    stage,
		failures: make([]InputFailure, 0),
	}
}

// Add records a failed input. Nil errors are ignored.
func (ec *ErrorCollector) Add(input string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = append(ec.failures, InputFailure{Input: input, Err: err})
}

// Merge copies the failures of another TransformError into the collector.
func (ec *ErrorCollector) Merge(err error) {
	var te *TransformError
	if !errors.As(err, &te) {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = append(ec.failures, te.Failures...)
}

// HasErrors returns true if there are any failures.
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return len(ec.failures) > 0
}

// Err returns a TransformError sorted by input, or nil when nothing failed.
func (ec *ErrorCollector) Err() error {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()

	if len(ec.failures) == 0 {
		return nil
	}

	failures := make([]InputFailure, len(ec.failures))
	copy(failures, ec.failures)
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].Input < failures[j].Input
	})

	return &TransformError{Stage: ec.stage, Failures: failures}
}
