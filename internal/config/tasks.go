package config

import (
	"errors"

	"github.com/conneroisu/sitepipe/internal/build"
	perrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/transform"
)

// Options converts the stage declaration for transform.New.
func (s StageConfig) Options() transform.Options {
	return transform.Options{
		Kind:       s.Kind,
		SourceMaps: s.SourceMaps,
		Minify:     s.Minify,
		Targets:    append([]string(nil), s.Targets...),
		Optimize:   s.Optimize,
		Command:    s.Command,
		Args:       append([]string(nil), s.Args...),
		Ext:        s.Ext,
		Dir:        s.Dir,
	}
}

// Task builds the immutable task described by t.
func (t TaskConfig) Task() (*build.Task, error) {
	task := &build.Task{
		Name:      t.Name,
		DependsOn: append([]string(nil), t.DependsOn...),
		Reload:    build.ReloadMode(t.Reload),
		Watch:     t.Watch,
	}
	if t.IsClean() {
		task.Clean = t.Clean
		task.Reload = build.ReloadNone
		task.Watch = false
		return task, nil
	}
	if task.Reload == "" {
		task.Reload = build.ReloadFull
	}

	spec, err := glob.NewPathSpec(t.Src.Include, t.Src.Exclude, t.Dest)
	if err != nil {
		return nil, wrapTask(err, t.Name)
	}
	task.Source = spec

	opts := make([]transform.Options, len(t.Stages))
	for i, s := range t.Stages {
		opts[i] = s.Options()
	}
	chain, err := transform.NewChain(opts)
	if err != nil {
		return nil, wrapTask(err, t.Name)
	}
	task.Stages = chain
	return task, nil
}

// BuildTasks converts every task declaration.
func (c *Config) BuildTasks() ([]*build.Task, error) {
	tasks := make([]*build.Task, 0, len(c.Tasks))
	for _, tc := range c.Tasks {
		t, err := tc.Task()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Graph builds the validated task graph.
func (c *Config) Graph() (*build.Graph, error) {
	tasks, err := c.BuildTasks()
	if err != nil {
		return nil, err
	}
	return build.NewGraph(tasks)
}

func wrapTask(err error, task string) error {
	var pe *perrors.PipelineError
	if errors.As(err, &pe) {
		return pe.WithTask(task)
	}
	return err
}
