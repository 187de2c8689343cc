package glob

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/conneroisu/sitepipe/internal/errors"
)

// Matcher decides whether a root-relative, slash separated path belongs to
// a PathSpec.
type Matcher struct {
	include []*pattern
	exclude []*pattern
}

// NewMatcher compiles every pattern of spec.
func NewMatcher(spec PathSpec) (*Matcher, error) {
	if len(spec.include) == 0 {
		return nil, errors.NewConfigError(errors.ErrCodeEmptyGlob, "no include patterns")
	}

	m := &Matcher{}
	for _, raw := range spec.include {
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		m.include = append(m.include, p)
	}
	for _, raw := range spec.exclude {
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		m.exclude = append(m.exclude, p)
	}
	return m, nil
}

// Match reports whether rel is included and not excluded.
func (m *Matcher) Match(rel string) bool {
	_, ok := m.owner(rel)
	return ok
}

// owner returns the first include pattern accepting rel.
func (m *Matcher) owner(rel string) (*pattern, bool) {
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")
	for _, ex := range m.exclude {
		if ex.match(rel) {
			return nil, false
		}
	}
	for _, in := range m.include {
		if in.match(rel) {
			return in, true
		}
	}
	return nil, false
}

// Bases returns the distinct static directories the include patterns start
// from, relative to the project root.
func (m *Matcher) Bases() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range m.include {
		if _, ok := seen[p.base]; ok {
			continue
		}
		seen[p.base] = struct{}{}
		out = append(out, p.base)
	}
	sort.Strings(out)
	return out
}

// Match is one resolved source file.
type Match struct {
	// Path is the absolute file path.
	Path string
	// Rel is the path relative to the static base of the pattern that
	// selected it; outputs are written to Dest/Rel.
	Rel string
}

// Resolver walks a filesystem rooted at a project directory.
type Resolver struct {
	fs   afero.Fs
	root string
}

// NewResolver creates a resolver. root is made absolute against the OS
// working directory when fs is the OS filesystem.
func NewResolver(fsys afero.Fs, root string) *Resolver {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if _, isOS := fsys.(*afero.OsFs); isOS {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &Resolver{fs: fsys, root: filepath.Clean(root)}
}

// Root returns the absolute project root.
func (r *Resolver) Root() string { return r.root }

// Fs returns the filesystem the resolver walks.
func (r *Resolver) Fs() afero.Fs { return r.fs }

// Abs resolves a root-relative path.
func (r *Resolver) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path to a root-relative slash path. ok is false
// when p lies outside the root.
func (r *Resolver) Rel(p string) (string, bool) {
	rel, err := filepath.Rel(r.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Resolve returns the sorted absolute paths selected by spec.
func (r *Resolver) Resolve(spec PathSpec) ([]string, error) {
	matches, err := r.ResolveMatches(spec)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Path
	}
	return out, nil
}

// ResolveMatches walks the filesystem afresh and returns every selected
// file, sorted by path. A pattern whose base directory does not exist
// selects nothing.
func (r *Resolver) ResolveMatches(spec PathSpec) ([]Match, error) {
	m, err := NewMatcher(spec)
	if err != nil {
		return nil, err
	}

	found := make(map[string]Match)
	for _, base := range m.Bases() {
		dir := r.Abs(base)
		if _, err := r.fs.Stat(dir); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
				continue
			}
			return nil, errors.NewIOError(errors.ErrCodeReadFailed, "stat pattern base", err).WithPath(dir)
		}

		walkErr := afero.Walk(r.fs, dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if _, dup := found[p]; dup {
				return nil
			}
			rel, ok := r.Rel(p)
			if !ok {
				return nil
			}
			owner, ok := m.owner(rel)
			if !ok {
				return nil
			}
			found[p] = Match{Path: p, Rel: relToBase(owner.base, rel)}
			return nil
		})
		if walkErr != nil {
			return nil, errors.NewIOError(errors.ErrCodeReadFailed, "walk source tree", walkErr).WithPath(dir)
		}
	}

	out := make([]Match, 0, len(found))
	for _, match := range found {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func relToBase(base, rel string) string {
	if base == "." {
		return rel
	}
	return strings.TrimPrefix(strings.TrimPrefix(rel, base), "/")
}
