package build

import (
	"sort"
	"strings"

	"github.com/conneroisu/sitepipe/internal/errors"
)

// Graph is a validated, acyclic set of tasks.
type Graph struct {
	tasks      map[string]*Task
	deps       map[string][]string
	dependents map[string][]string
	order      []string
}

// NewGraph validates tasks and computes their execution order. Unknown
// dependencies, duplicate names and cycles are configuration errors; a
// cycle error names the path.
func NewGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*Task, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for _, t := range tasks {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "task name is required")
		}
		if _, dup := g.tasks[t.Name]; dup {
			return nil, errors.Configf(errors.ErrCodeDuplicateTask, "duplicate task %q", t.Name)
		}
		g.tasks[t.Name] = t
	}

	edges := make(map[string]map[string]bool, len(tasks))
	addEdge := func(from, to string) {
		if edges[to] == nil {
			edges[to] = make(map[string]bool)
		}
		edges[to][from] = true
	}

	for _, t := range tasks {
		for _, d := range t.DependsOn {
			if _, ok := g.tasks[d]; !ok {
				return nil, errors.Configf(errors.ErrCodeUnknownTask, "task %q depends on unknown task %q", t.Name, d).WithTask(t.Name)
			}
			addEdge(d, t.Name)
		}
	}

	// A clean task runs before every writer whose destination overlaps
	// the directory it removes.
	for _, c := range tasks {
		if !c.IsClean() {
			continue
		}
		for _, w := range tasks {
			if w.IsClean() {
				continue
			}
			if within(w.Dest(), c.Dest()) || within(c.Dest(), w.Dest()) {
				addEdge(c.Name, w.Name)
			}
		}
	}

	for to, froms := range edges {
		for from := range froms {
			g.deps[to] = append(g.deps[to], from)
			g.dependents[from] = append(g.dependents[from], to)
		}
	}
	for name := range g.tasks {
		sort.Strings(g.deps[name])
		sort.Strings(g.dependents[name])
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort is Kahn's algorithm with ties broken by name so the order is
// deterministic.
func (g *Graph) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.tasks))
	for name := range g.tasks {
		indegree[name] = len(g.deps[name])
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, next := range g.dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) != len(g.tasks) {
		return nil, errors.Configf(errors.ErrCodeCycle, "dependency cycle: %s", strings.Join(g.findCycle(indegree), " -> "))
	}
	return order, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// findCycle walks the tasks Kahn's algorithm could not place and returns
// one cycle as a closed path.
func (g *Graph) findCycle(indegree map[string]int) []string {
	var stuck []string
	for name, n := range indegree {
		if n > 0 {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(stuck))
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		for _, dep := range g.deps[name] {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range stuck {
		if color[name] == white && visit(name) {
			break
		}
	}
	// The walk follows dependency edges backwards; present it in
	// execution direction.
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

// Order returns task names in execution order.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// Task looks up a task by name.
func (g *Graph) Task(name string) (*Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Tasks returns all tasks in execution order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, len(g.order))
	for i, name := range g.order {
		out[i] = g.tasks[name]
	}
	return out
}

// Dependencies returns the explicit and implicit predecessors of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the direct successors of name.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Require returns a configuration error for the first name that is not a
// task of g.
func (g *Graph) Require(names ...string) error {
	for _, n := range names {
		if _, ok := g.tasks[n]; !ok {
			return errors.Configf(errors.ErrCodeUnknownTask, "unknown task %q (available: %s)",
				n, strings.Join(g.order, ", "))
		}
	}
	return nil
}

// Downstream returns names plus every task reachable from them, leaving
// out clean tasks that were not named explicitly. The result is in
// execution order.
func (g *Graph) Downstream(names ...string) []string {
	selected := make(map[string]bool)
	var walk func(string, bool)
	walk = func(name string, explicit bool) {
		if selected[name] {
			return
		}
		t, ok := g.tasks[name]
		if !ok || (!explicit && t.IsClean()) {
			return
		}
		selected[name] = true
		for _, next := range g.dependents[name] {
			walk(next, false)
		}
	}
	for _, n := range names {
		walk(n, true)
	}

	var out []string
	for _, name := range g.order {
		if selected[name] {
			out = append(out, name)
		}
	}
	return out
}
