//go:build property

package build

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"

	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/transform"
)

// randomGraph builds n tasks where task i may depend on any task before
// it; edges[k] selects the candidate pairs in order.
func randomGraph(n int, edges []bool) []*Task {
	tasks := make([]*Task, n)
	k := 0
	for i := 0; i < n; i++ {
		spec, _ := glob.NewPathSpec([]string{fmt.Sprintf("src/t%d/*", i)}, nil, fmt.Sprintf("dist/t%d", i))
		tasks[i] = &Task{Name: fmt.Sprintf("t%02d", i), Source: spec}
		for j := 0; j < i; j++ {
			if k < len(edges) && edges[k] {
				tasks[i].DependsOn = append(tasks[i].DependsOn, tasks[j].Name)
			}
			k++
		}
	}
	return tasks
}

// TestSchedulerProperties validates ordering invariants of the scheduler.
func TestSchedulerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("order places every dependency first", prop.ForAll(
		func(n int, edges []bool) bool {
			g, err := NewGraph(randomGraph(n, edges))
			if err != nil {
				return false
			}
			pos := make(map[string]int)
			for i, name := range g.Order() {
				pos[name] = i
			}
			for _, task := range g.Tasks() {
				for _, dep := range g.Dependencies(task.Name) {
					if pos[dep] >= pos[task.Name] {
						return false
					}
				}
			}
			return len(pos) == n
		},
		gen.IntRange(1, 12),
		gen.SliceOfN(66, gen.Bool()),
	))

	properties.Property("tasks start only after their dependencies finish", prop.ForAll(
		func(n int, edges []bool, workers int) bool {
			tasks := randomGraph(n, edges)

			var mu sync.Mutex
			finished := make(map[string]bool)
			violated := false

			fs := afero.NewMemMapFs()
			for i, task := range tasks {
				_ = fs.MkdirAll(fmt.Sprintf("/p/src/t%d", i), 0o755)
				_ = afero.WriteFile(fs, fmt.Sprintf("/p/src/t%d/f", i), []byte("x"), 0o644)
				deps := task.DependsOn
				name := task.Name
				task.Stages = transform.Chain{transform.Func{StageName: "record", Fn: func(_ context.Context, f *transform.File) (*transform.File, error) {
					mu.Lock()
					defer mu.Unlock()
					for _, d := range deps {
						if !finished[d] {
							violated = true
						}
					}
					finished[name] = true
					return f, nil
				}}}
			}

			g, err := NewGraph(tasks)
			if err != nil {
				return false
			}
			report := NewScheduler(g, glob.NewResolver(fs, "/p"), WithWorkers(workers)).Run(context.Background())
			return !report.Failed() && !violated && len(report.Results) == n
		},
		gen.IntRange(1, 12),
		gen.SliceOfN(66, gen.Bool()),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
