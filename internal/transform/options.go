package transform

import (
	"sort"
	"strings"

	perrors "github.com/conneroisu/sitepipe/internal/errors"
)

// Stage kinds understood by New.
const (
	KindCopy     = "copy"
	KindScript   = "script"
	KindStyle    = "style"
	KindMarkup   = "markup"
	KindMarkdown = "markdown"
	KindImage    = "image"
	KindExec     = "exec"
)

// Options configures one stage. Fields that do not apply to a kind are ignored.
type Options struct {
	Kind       string
	SourceMaps bool
	Minify     bool
	// Targets lists engines and language levels, e.g. "es2015", "chrome58",
	// "safari11". Style stages use them to decide vendor prefixes.
	Targets []string
	// Optimize enables image re-encoding. Off by default.
	Optimize bool
	// Command, Args and Ext configure exec stages. "{file}" in Args is
	// replaced by the source path; Ext rewrites the output extension.
	Command string
	Args    []string
	Ext     string
	// Dir is the working directory for exec stages.
	Dir string
}

// Kinds returns every supported stage kind, sorted.
func Kinds() []string {
	kinds := []string{KindCopy, KindScript, KindStyle, KindMarkup, KindMarkdown, KindImage, KindExec}
	sort.Strings(kinds)
	return kinds
}

// New builds the stage described by opts.
func New(opts Options) (Stage, error) {
	switch strings.ToLower(opts.Kind) {
	case KindCopy, "":
		return Copy{}, nil
	case KindScript:
		return NewScript(opts)
	case KindStyle:
		return NewStyle(opts)
	case KindMarkup:
		return NewMarkup(opts), nil
	case KindMarkdown:
		return NewMarkdown(opts), nil
	case KindImage:
		return NewImage(opts), nil
	case KindExec:
		return NewExec(opts)
	default:
		return nil, perrors.Configf(perrors.ErrCodeUnknownStage,
			"unknown stage kind %q (want one of %s)", opts.Kind, strings.Join(Kinds(), ", "))
	}
}

// NewChain builds a chain from a list of options.
func NewChain(opts []Options) (Chain, error) {
	chain := make(Chain, 0, len(opts))
	for _, o := range opts {
		s, err := New(o)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}
