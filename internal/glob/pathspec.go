// Package glob expands declarative include/exclude patterns into concrete
// file lists. Patterns are slash separated and relative to the project root;
// `**` spans any number of directories (including none), `*` and `?` stay
// within one path segment, and `{a,b}` and `[...]` behave as in gobwas/glob.
package glob

import (
	"path"
	"strings"

	gglob "github.com/gobwas/glob"

	"github.com/conneroisu/sitepipe/internal/errors"
)

// PathSpec selects source files and names where their outputs go. It is
// immutable once constructed.
type PathSpec struct {
	include []string
	exclude []string
	dest    string
}

// NewPathSpec validates and builds a PathSpec. It fails with a
// configuration error when include is empty, dest is empty or any pattern
// does not compile.
func NewPathSpec(include, exclude []string, dest string) (PathSpec, error) {
	if len(include) == 0 {
		return PathSpec{}, errors.NewConfigError(errors.ErrCodeEmptyGlob, "no include patterns")
	}
	if strings.TrimSpace(dest) == "" {
		return PathSpec{}, errors.NewConfigError(errors.ErrCodeMissingDest, "destination directory is empty")
	}

	spec := PathSpec{
		include: append([]string(nil), include...),
		exclude: append([]string(nil), exclude...),
		dest:    dest,
	}
	if _, err := NewMatcher(spec); err != nil {
		return PathSpec{}, err
	}
	return spec, nil
}

// Include returns a copy of the include patterns.
func (p PathSpec) Include() []string { return append([]string(nil), p.include...) }

// Exclude returns a copy of the exclude patterns.
func (p PathSpec) Exclude() []string { return append([]string(nil), p.exclude...) }

// Dest returns the destination directory.
func (p PathSpec) Dest() string { return p.dest }

// pattern is one compiled include or exclude pattern.
type pattern struct {
	raw      string
	base     string
	variants []gglob.Glob
}

func (p *pattern) match(rel string) bool {
	for _, g := range p.variants {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func compile(raw string) (*pattern, error) {
	clean := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(raw)), "/")
	if strings.TrimSpace(raw) == "" || clean == "" || clean == "." {
		return nil, errors.Configf(errors.ErrCodeInvalidGlob, "empty pattern %q", raw)
	}
	if strings.HasPrefix(raw, "../") || strings.Contains(raw, "/../") {
		return nil, errors.Configf(errors.ErrCodeInvalidGlob, "pattern %q leaves the project root", raw)
	}

	p := &pattern{raw: raw, base: staticBase(clean)}
	for _, v := range expandGlobstar(clean) {
		g, err := gglob.Compile(v, '/')
		if err != nil {
			return nil, &errors.PipelineError{
				Type:    errors.ErrorTypeConfig,
				Code:    errors.ErrCodeInvalidGlob,
				Message: "invalid pattern " + raw,
				Cause:   err,
			}
		}
		p.variants = append(p.variants, g)
	}
	return p, nil
}

// expandGlobstar returns the pattern plus every variant where some `**/`
// segments match zero directories.
func expandGlobstar(p string) []string {
	idx := strings.Index(p, "**/")
	if idx < 0 || (idx > 0 && p[idx-1] != '/') {
		return []string{p}
	}

	head, tail := p[:idx], p[idx+3:]
	var out []string
	for _, rest := range expandGlobstar(tail) {
		out = append(out, head+"**/"+rest, head+rest)
	}
	return out
}

// staticBase returns the leading directories of a pattern that contain no
// glob meta characters. For a literal file path it is the parent directory.
func staticBase(p string) string {
	segments := strings.Split(p, "/")
	literal := 0
	for _, s := range segments {
		if strings.ContainsAny(s, "*?[{\\") {
			break
		}
		literal++
	}
	if literal == len(segments) {
		literal--
	}
	if literal <= 0 {
		return "."
	}
	return strings.Join(segments[:literal], "/")
}
