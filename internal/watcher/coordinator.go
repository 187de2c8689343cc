// Package watcher re-runs build tasks when their sources change.
//
// Each watched task has a binding with its own debounce state machine:
//
//	Idle --change--> Debouncing --quiet period--> Running --done--> Idle
//	Debouncing --change--> Debouncing (timer restarts)
//	Running --change--> Running (pending set; on completion Debouncing)
//
// A binding therefore never has two runs in flight, a burst of changes
// collapses into a single run, and every completed run produces exactly
// one notification.
package watcher

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/notify"
)

// DefaultDebounce is the quiet period before a run starts.
const DefaultDebounce = 200 * time.Millisecond

// State of a binding.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Runner executes a task and everything downstream of it.
type Runner interface {
	RunTargets(ctx context.Context, names ...string) *build.Report
}

type binding struct {
	task    *build.Task
	matcher *glob.Matcher
	state   State
	timer   *time.Timer
	gen     int
	pending bool
	changed map[string]struct{}
}

// Coordinator routes file changes to task bindings and runs them.
type Coordinator struct {
	runner     Runner
	resolver   *glob.Resolver
	notifier   notify.Notifier
	logger     logging.Logger
	debounce   time.Duration
	publicRoot string
	only       []string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	bindings []*binding
	stopped  bool
	runs     sync.WaitGroup
	fw       *FileWatcher
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithNotifier sets where run notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPublicRoot sets the root-relative directory the dev server serves.
// Paths in inject notifications are made relative to it.
func WithPublicRoot(rel string) Option {
	return func(c *Coordinator) { c.publicRoot = strings.Trim(path.Clean(rel), "/") }
}

// WithTasks limits watching to the named tasks and the tasks downstream of
// them. Without it every watched task is bound.
func WithTasks(names ...string) Option {
	return func(c *Coordinator) { c.only = append(c.only, names...) }
}

// NewCoordinator binds every watched, non-clean task of g.
func NewCoordinator(g *build.Graph, runner Runner, resolver *glob.Resolver, opts ...Option) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		runner:     runner,
		resolver:   resolver,
		notifier:   notify.Nop{},
		logger:     logging.NopLogger{},
		debounce:   DefaultDebounce,
		publicRoot: ".",
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("watch")

	var selected map[string]bool
	if len(c.only) > 0 {
		if err := g.Require(c.only...); err != nil {
			cancel()
			return nil, err
		}
		selected = make(map[string]bool)
		for _, name := range g.Downstream(c.only...) {
			selected[name] = true
		}
	}

	for _, t := range g.Tasks() {
		if !t.Watch || t.IsClean() {
			continue
		}
		if selected != nil && !selected[t.Name] {
			continue
		}
		m, err := glob.NewMatcher(t.Source)
		if err != nil {
			cancel()
			return nil, err
		}
		c.bindings = append(c.bindings, &binding{task: t, matcher: m, changed: make(map[string]struct{})})
	}
	sort.Slice(c.bindings, func(i, j int) bool { return c.bindings[i].task.Name < c.bindings[j].task.Name })
	return c, nil
}

// Tasks returns the names of bound tasks.
func (c *Coordinator) Tasks() []string {
	out := make([]string, len(c.bindings))
	for i, b := range c.bindings {
		out[i] = b.task.Name
	}
	return out
}

// State returns the current state of a bound task.
func (c *Coordinator) State(task string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bindings {
		if b.task.Name == task {
			return b.state
		}
	}
	return StateIdle
}

// Start watches the base directory of every bound pattern.
func (c *Coordinator) Start(ctx context.Context) error {
	fw, err := NewFileWatcher(c.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(NoGitFilter)
	fw.AddFilter(NoEditorTempFilter)
	fw.AddHandler(c.HandleEvent)

	seen := make(map[string]bool)
	for _, b := range c.bindings {
		for _, base := range b.matcher.Bases() {
			dir := c.resolver.Abs(base)
			if seen[dir] {
				continue
			}
			seen[dir] = true
			if err := fw.AddRecursiveWithin(dir, c.resolver.Root()); err != nil {
				_ = fw.Stop()
				return err
			}
		}
	}

	c.mu.Lock()
	c.fw = fw
	c.mu.Unlock()

	c.logger.Info(ctx, "Watching for changes", "tasks", len(c.bindings), "directories", len(fw.WatchList()), "debounce", c.debounce.String())
	return fw.Start(ctx)
}

// HandleEvent routes one change to every binding whose sources include
// it. Changes inside a task's own destination are ignored for that task.
func (c *Coordinator) HandleEvent(ev ChangeEvent) {
	rel, ok := c.resolver.Rel(ev.Path)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	for _, b := range c.bindings {
		if !b.matcher.Match(rel) {
			continue
		}
		if dest := b.task.Dest(); dest != "." && withinDir(rel, dest) {
			continue
		}
		b.changed[rel] = struct{}{}
		c.trigger(b)
	}
}

// trigger advances b for one change. c.mu must be held.
func (c *Coordinator) trigger(b *binding) {
	switch b.state {
	case StateIdle:
		b.state = StateDebouncing
		c.arm(b)
	case StateDebouncing:
		b.timer.Stop()
		c.arm(b)
	case StateRunning:
		b.pending = true
	}
}

// arm starts a fresh quiet period. A timer that already fired but has not
// yet taken the lock sees a stale generation and does nothing.
func (c *Coordinator) arm(b *binding) {
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(c.debounce, func() { c.fire(b, gen) })
}

func (c *Coordinator) fire(b *binding, gen int) {
	c.mu.Lock()
	if c.stopped || b.state != StateDebouncing || b.gen != gen {
		c.mu.Unlock()
		return
	}
	b.state = StateRunning
	b.pending = false
	changed := make([]string, 0, len(b.changed))
	for p := range b.changed {
		changed = append(changed, p)
	}
	b.changed = make(map[string]struct{})
	c.runs.Add(1)
	c.mu.Unlock()

	defer c.runs.Done()
	sort.Strings(changed)
	c.logger.Info(c.ctx, "Change detected", "task", b.task.Name, "files", len(changed))

	report := c.runner.RunTargets(c.ctx, b.task.Name)
	c.publish(b.task, report)

	c.mu.Lock()
	defer c.mu.Unlock()
	if b.pending && !c.stopped {
		b.pending = false
		b.state = StateDebouncing
		c.arm(b)
		return
	}
	b.pending = false
	b.state = StateIdle
}

// publish sends exactly one notification for a completed run.
func (c *Coordinator) publish(t *build.Task, report *build.Report) {
	change := notify.Change{Task: t.Name, RunID: report.RunID, Time: time.Now()}

	switch {
	case report.Failed():
		change.Kind = notify.KindError
		var reasons []string
		for _, res := range report.Results {
			if res.Failed() {
				reasons = append(reasons, res.Task+": "+res.Reason())
			}
		}
		change.Error = strings.Join(reasons, "\n")
	case t.Reload == build.ReloadNone:
		return
	case t.Reload == build.ReloadInject:
		change.Kind = notify.KindInject
		change.Paths = c.publicPaths(report, ".css")
		if len(change.Paths) == 0 {
			change.Kind = notify.KindReload
		}
	default:
		change.Kind = notify.KindReload
		change.Paths = c.publicPaths(report, "")
	}

	if err := c.notifier.Notify(c.ctx, change); err != nil {
		c.logger.Warn(c.ctx, err, "Reload notification failed", "task", t.Name, "kind", string(change.Kind))
	}
}

// publicPaths lists written files under the public root as URL paths,
// optionally limited to one extension. Source maps are left out.
func (c *Coordinator) publicPaths(report *build.Report, ext string) []string {
	var out []string
	for _, res := range report.Results {
		for _, f := range res.FilesWritten {
			rel, ok := c.resolver.Rel(f)
			if !ok || strings.HasSuffix(rel, ".map") {
				continue
			}
			if ext != "" && path.Ext(rel) != ext {
				continue
			}
			if c.publicRoot != "." {
				if !withinDir(rel, c.publicRoot) {
					continue
				}
				rel = strings.TrimPrefix(strings.TrimPrefix(rel, c.publicRoot), "/")
			}
			out = append(out, "/"+rel)
		}
	}
	sort.Strings(out)
	return out
}

// Stop cancels pending debounces and waits for in-flight runs to finish.
// If ctx expires first the runs are cancelled.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	for _, b := range c.bindings {
		if b.state == StateDebouncing {
			b.timer.Stop()
			b.state = StateIdle
		}
		b.pending = false
	}
	fw := c.fw
	c.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Stop()
	}

	drained := make(chan struct{})
	go func() {
		c.runs.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		c.cancel()
		return err
	case <-ctx.Done():
		c.cancel()
		<-drained
		return ctx.Err()
	}
}

func withinDir(p, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
