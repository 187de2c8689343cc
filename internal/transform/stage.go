// Package transform wraps external transformations (script and style
// compilation, minification, markup minification, markdown rendering,
// image optimization, arbitrary commands) behind one contract:
//
//	Apply(ctx, inputs) -> outputs
//
// Stages work on in-memory files and never touch the filesystem; the owning
// task reads sources and writes outputs. A stage keeps going when a single
// input fails and reports every failed input in an errors.TransformError.
package transform

import (
	"context"
	"errors"
	"path"
	"strings"

	perrors "github.com/conneroisu/sitepipe/internal/errors"
)

// File is one unit of content flowing through a chain of stages.
type File struct {
	// Source is the absolute path of the file the content originated from.
	Source string
	// Rel is the output path relative to the task destination, slash separated.
	Rel string
	// Dest is the absolute destination directory, when known.
	Dest string
	// Data is the current content.
	Data []byte
	// Map is an optional source map written next to the output as Rel+".map".
	Map []byte
}

// Clone returns a copy that can be modified without affecting f.
func (f *File) Clone() *File {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	if f.Map != nil {
		c.Map = append([]byte(nil), f.Map...)
	}
	return &c
}

// WithExt returns Rel with its extension replaced by ext (".css").
func (f *File) WithExt(ext string) string {
	return strings.TrimSuffix(f.Rel, path.Ext(f.Rel)) + ext
}

// Stage transforms a batch of files.
type Stage interface {
	// Name identifies the stage in logs and errors.
	Name() string
	// Apply returns the outputs of every input that succeeded and, when any
	// input failed, a *errors.TransformError listing them.
	Apply(ctx context.Context, inputs []*File) ([]*File, error)
}

// FileFunc transforms a single file.
type FileFunc func(ctx context.Context, f *File) (*File, error)

// forEach runs fn over every input, collecting failures instead of
// stopping at the first one. Cancellation fails the remaining inputs.
func forEach(ctx context.Context, stage string, inputs []*File, fn FileFunc) ([]*File, error) {
	collector := perrors.NewErrorCollector(stage)
	out := make([]*File, 0, len(inputs))

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			collector.Add(in.Source, err)
			continue
		}
		res, err := fn(ctx, in)
		if err != nil {
			collector.Add(in.Source, err)
			continue
		}
		if res != nil {
			out = append(out, res)
		}
	}

	return out, collector.Err()
}

// Chain applies stages in order. Each stage receives only the survivors of
// the previous one; failures from every stage are joined.
type Chain []Stage

// Name implements Stage.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, "|")
}

// Apply implements Stage.
func (c Chain) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	files := inputs
	var errs []error
	for _, s := range c {
		if len(files) == 0 {
			break
		}
		out, err := s.Apply(ctx, files)
		if err != nil {
			errs = append(errs, err)
		}
		files = out
	}
	return files, errors.Join(errs...)
}

// Copy passes files through unchanged.
type Copy struct{}

// Name implements Stage.
func (Copy) Name() string { return "copy" }

// Apply implements Stage.
func (Copy) Apply(_ context.Context, inputs []*File) ([]*File, error) {
	return inputs, nil
}

// Func adapts a FileFunc into a Stage.
type Func struct {
	StageName string
	Fn        FileFunc
}

// Name implements Stage.
func (s Func) Name() string { return s.StageName }

// Apply implements Stage.
func (s Func) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, s.StageName, inputs, s.Fn)
}
