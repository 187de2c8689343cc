package build

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
)

// Report is the outcome of one scheduler run.
type Report struct {
	RunID    string
	Results  []*TaskResult
	Duration time.Duration
}

// Failed reports whether any task failed or was skipped.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}

// Result returns the result for the named task.
func (r *Report) Result(name string) (*TaskResult, bool) {
	for _, res := range r.Results {
		if res.Task == name {
			return res, true
		}
	}
	return nil, false
}

// Err summarizes failed tasks, or returns nil for a clean run.
func (r *Report) Err() error {
	var failed []string
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, fmt.Sprintf("%s (%s)", res.Task, res.Outcome))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d task(s) did not succeed: %s", len(failed), strings.Join(failed, ", "))
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of tasks running at once.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithStats attaches in-process counters, typically shared with the dev
// server's status page.
func WithStats(m *BuildMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.stats = m
		}
	}
}

// WithOutputCache replaces the cache used to skip rewriting identical
// outputs. A nil cache disables skipping.
func WithOutputCache(c *OutputCache) Option {
	return func(s *Scheduler) {
		s.runner.cache = c
	}
}

// Scheduler executes a Graph. It is safe for concurrent use; a task never
// runs twice at the same time even when overlapping runs select it.
type Scheduler struct {
	graph    *Graph
	runner   *runner
	workers  int
	logger   logging.Logger
	recorder metrics.Recorder
	stats    *BuildMetrics
	errs     *errors.ErrorHandler

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewScheduler creates a scheduler for g reading and writing through
// resolver.
func NewScheduler(g *Graph, resolver *glob.Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:    g,
		runner:   &runner{resolver: resolver, cache: NewOutputCache()},
		workers:  runtime.GOMAXPROCS(0),
		logger:   logging.NopLogger{},
		recorder: metrics.NoopRecorder{},
		stats:    NewBuildMetrics(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	s.errs = errors.NewErrorHandler(s.logger)
	return s
}

// Graph returns the graph being scheduled.
func (s *Scheduler) Graph() *Graph { return s.graph }

// Stats returns the in-process counters.
func (s *Scheduler) Stats() *BuildMetrics { return s.stats }

// Run executes every task.
func (s *Scheduler) Run(ctx context.Context) *Report {
	return s.execute(ctx, s.graph.Order())
}

// RunTargets executes the named tasks and everything downstream of them,
// except clean tasks that were not named.
func (s *Scheduler) RunTargets(ctx context.Context, names ...string) *Report {
	return s.execute(ctx, s.graph.Downstream(names...))
}

// execute runs selected, which must be in graph order. Dependencies that
// are not selected count as satisfied.
func (s *Scheduler) execute(ctx context.Context, selected []string) *Report {
	start := time.Now()
	runID := uuid.NewString()
	report := &Report{RunID: runID}
	if len(selected) == 0 {
		return report
	}

	inRun := make(map[string]bool, len(selected))
	for _, name := range selected {
		inRun[name] = true
	}
	waiting := make(map[string]int, len(selected))
	for _, name := range selected {
		for _, dep := range s.graph.deps[name] {
			if inRun[dep] {
				waiting[name]++
			}
		}
	}

	s.logger.Info(ctx, "Run started", "run_id", runID, "tasks", len(selected), "workers", s.workers)

	results := make(map[string]*TaskResult, len(selected))
	done := make(chan *TaskResult, len(selected))
	p := pool.New().WithMaxGoroutines(s.workers)

	launch := func(name string) {
		t := s.graph.tasks[name]
		p.Go(func() {
			done <- s.runTask(ctx, t, runID)
		})
	}

	var skip func(name, upstream string)
	skip = func(name, upstream string) {
		if results[name] != nil {
			return
		}
		res := &TaskResult{
			Task:    name,
			RunID:   runID,
			Outcome: OutcomeSkipped,
			Err:     errors.NewSkippedError(name, upstream),
		}
		results[name] = res
		s.record(ctx, res)
		for _, next := range s.graph.dependents[name] {
			if inRun[next] {
				skip(next, upstream)
			}
		}
	}

	for _, name := range selected {
		if waiting[name] == 0 {
			launch(name)
		}
	}

	for len(results) < len(selected) {
		res := <-done
		results[res.Task] = res

		for _, next := range s.graph.dependents[res.Task] {
			if !inRun[next] || results[next] != nil {
				continue
			}
			if res.Failed() {
				skip(next, res.Task)
				continue
			}
			waiting[next]--
			if waiting[next] == 0 {
				launch(next)
			}
		}
	}
	p.Wait()

	for _, name := range selected {
		report.Results = append(report.Results, results[name])
	}
	report.Duration = time.Since(start)

	failed := report.Failed()
	s.recorder.ObserveBuild(report.Duration, failed)
	s.stats.RecordRun(report)
	if failed {
		s.logger.Warn(ctx, report.Err(), "Run finished with failures", "run_id", runID, "duration_ms", report.Duration.Milliseconds())
	} else {
		s.logger.Info(ctx, "Run finished", "run_id", runID, "duration_ms", report.Duration.Milliseconds())
	}
	return report
}

func (s *Scheduler) runTask(ctx context.Context, t *Task, runID string) *TaskResult {
	lock := s.lockFor(t.Name)
	lock.Lock()
	defer lock.Unlock()

	s.logger.Debug(ctx, "Task started", "task", t.Name, "run_id", runID)
	res := s.runner.run(ctx, t, runID)
	s.record(ctx, res)
	return res
}

func (s *Scheduler) record(ctx context.Context, res *TaskResult) {
	outcome := res.Outcome.String()
	s.recorder.ObserveTask(res.Task, res.Duration, outcome)
	s.recorder.AddFilesWritten(res.Task, len(res.FilesWritten))
	s.stats.RecordTask(res)

	switch res.Outcome {
	case OutcomeSuccess:
		s.logger.Info(ctx, "Task finished",
			"task", res.Task,
			"run_id", res.RunID,
			"files", len(res.FilesWritten),
			"size", humanize.Bytes(uint64(res.BytesWritten)),
			"duration_ms", res.Duration.Milliseconds())
	default:
		for _, err := range flatten(res.Err) {
			s.errs.Handle(ctx, err)
		}
	}
}

// flatten splits joined errors so each is logged under its own category.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errors.TransformError); ok {
		return []error{err}
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func (s *Scheduler) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}
