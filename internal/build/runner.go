package build

import (
	"context"
	stderrors "errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/transform"
)

// runner executes a single task against the project filesystem.
type runner struct {
	resolver *glob.Resolver
	cache    *OutputCache
}

func (r *runner) run(ctx context.Context, t *Task, runID string) *TaskResult {
	start := time.Now()
	res := &TaskResult{Task: t.Name, RunID: runID}

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeFailure
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	var err error
	if t.IsClean() {
		err = r.clean(t)
	} else {
		err = r.transform(ctx, t, res)
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome = OutcomeFailure
		res.Err = err
		res.FailedInputs = errors.FailedInputs(err)
	}
	return res
}

func (r *runner) clean(t *Task) error {
	dir := r.resolver.Abs(t.Dest())
	if dir == r.resolver.Root() {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "refusing to clean the project root").WithTask(t.Name)
	}
	if err := r.resolver.Fs().RemoveAll(dir); err != nil {
		return errors.NewIOError(errors.ErrCodeCleanFailed, "remove directory", err).WithTask(t.Name).WithPath(dir)
	}
	if r.cache != nil {
		r.cache.Forget(dir)
	}
	return nil
}

// transform reads every selected source, applies the chain and writes the
// survivors. Outputs of inputs that succeeded are written even when other
// inputs failed.
func (r *runner) transform(ctx context.Context, t *Task, res *TaskResult) error {
	matches, err := r.resolver.ResolveMatches(t.Source)
	if err != nil {
		var pe *errors.PipelineError
		if stderrors.As(err, &pe) {
			return pe.WithTask(t.Name)
		}
		return err
	}

	fsys := r.resolver.Fs()
	dest := r.resolver.Abs(t.Dest())
	readErrs := errors.NewErrorCollector("read")
	inputs := make([]*transform.File, 0, len(matches))
	for _, m := range matches {
		data, err := afero.ReadFile(fsys, m.Path)
		if err != nil {
			readErrs.Add(m.Path, err)
			continue
		}
		inputs = append(inputs, &transform.File{Source: m.Path, Rel: m.Rel, Dest: dest, Data: data})
	}

	chain := t.Stages
	if len(chain) == 0 {
		chain = transform.Chain{transform.Copy{}}
	}
	outputs, stageErr := chain.Apply(ctx, inputs)

	written, bytes, writeErr := r.write(t, outputs)
	res.FilesWritten = written
	res.BytesWritten = bytes

	return stderrors.Join(readErrs.Err(), stageErr, writeErr)
}

// write stores outputs beneath the task's destination. Every output is
// reported in the returned paths; the byte count only covers files that
// actually changed on disk.
func (r *runner) write(t *Task, outputs []*transform.File) ([]string, int64, error) {
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Rel < outputs[j].Rel })

	fsys := r.resolver.Fs()
	dest := r.resolver.Abs(t.Dest())
	var written []string
	var total int64

	put := func(rel string, data []byte) error {
		target, err := destPath(dest, rel)
		if err != nil {
			return err
		}
		if r.cache != nil && r.cache.Unchanged(fsys, target, data) {
			written = append(written, target)
			return nil
		}
		if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "create output directory", err).WithPath(target)
		}
		if err := afero.WriteFile(fsys, target, data, 0o644); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "write output", err).WithPath(target)
		}
		if r.cache != nil {
			r.cache.Store(fsys, target, data)
		}
		written = append(written, target)
		total += int64(len(data))
		return nil
	}

	for _, out := range outputs {
		if err := put(out.Rel, out.Data); err != nil {
			return written, total, withTask(err, t.Name)
		}
		if out.Map != nil {
			if err := put(out.Rel+".map", out.Map); err != nil {
				return written, total, withTask(err, t.Name)
			}
		}
	}
	return written, total, nil
}

// destPath joins rel onto dest and rejects results that escape dest.
func destPath(dest, rel string) (string, error) {
	clean := path.Clean(filepath.ToSlash(rel))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.NewIOError(errors.ErrCodeOutsideDest, "output escapes destination", nil).WithPath(rel)
	}
	target := filepath.Join(dest, filepath.FromSlash(clean))
	if !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", errors.NewIOError(errors.ErrCodeOutsideDest, "output escapes destination", nil).WithPath(rel)
	}
	return target, nil
}

func withTask(err error, task string) error {
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe.WithTask(task)
	}
	return err
}
