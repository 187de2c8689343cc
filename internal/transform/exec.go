package transform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	perrors "github.com/conneroisu/sitepipe/internal/errors"
)

// Exec pipes each file through an external command: the content goes to
// stdin and stdout becomes the new content. It is how compilers without a
// Go binding (sass, postcss, lessc) join a chain.
type Exec struct {
	command string
	args    []string
	ext     string
	dir     string
}

// NewExec builds an exec stage after validating the command line.
func NewExec(o Options) (*Exec, error) {
	e := &Exec{
		command: strings.TrimSpace(o.Command),
		args:    append([]string(nil), o.Args...),
		ext:     o.Ext,
		dir:     o.Dir,
	}
	if err := e.validateCommand(); err != nil {
		return nil, err
	}
	if e.ext != "" && !strings.HasPrefix(e.ext, ".") {
		e.ext = "." + e.ext
	}
	return e, nil
}

// Name implements Stage.
func (e *Exec) Name() string { return KindExec + ":" + filepath.Base(e.command) }

// Apply implements Stage.
func (e *Exec) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, e.Name(), inputs, e.run)
}

func (e *Exec) run(ctx context.Context, f *File) (*File, error) {
	args := make([]string, len(e.args))
	for i, a := range e.args {
		args[i] = strings.ReplaceAll(a, "{file}", f.Source)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Dir = e.dir
	cmd.Stdin = bytes.NewReader(f.Data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s cancelled: %w", e.command, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", e.command, err, strings.TrimSpace(stderr.String()))
	}

	rel := f.Rel
	if e.ext != "" {
		rel = f.WithExt(e.ext)
	}
	return &File{Source: f.Source, Dest: f.Dest, Rel: rel, Data: stdout.Bytes()}, nil
}

// validateCommand rejects empty commands and shell metacharacters; the
// command is executed directly, never through a shell.
func (e *Exec) validateCommand() error {
	if e.command == "" {
		return perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "exec stage requires a command")
	}
	if err := validateArgument(e.command); err != nil {
		return perrors.Configf(perrors.ErrCodeConfigInvalid, "invalid command %q: %v", e.command, err)
	}
	for _, arg := range e.args {
		if err := validateArgument(arg); err != nil {
			return perrors.Configf(perrors.ErrCodeConfigInvalid, "invalid argument %q: %v", arg, err)
		}
	}
	return nil
}

func validateArgument(arg string) error {
	for _, c := range []string{";", "&", "|", "$", "`", "<", ">", "\n", "\r"} {
		if strings.Contains(arg, c) {
			return fmt.Errorf("contains %q", c)
		}
	}
	return nil
}
