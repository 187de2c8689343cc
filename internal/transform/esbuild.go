package transform

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	perrors "github.com/conneroisu/sitepipe/internal/errors"
)

// DefaultStyleTargets mirrors a conservative browserslist default.
var DefaultStyleTargets = []string{"chrome58", "edge16", "firefox57", "safari11"}

// Script compiles JavaScript down to a language target and optionally
// minifies it, emitting an external source map.
type Script struct {
	opts    api.TransformOptions
	sources bool
}

// NewScript builds a script stage.
func NewScript(o Options) (*Script, error) {
	target, engines, err := parseTargets(o.Targets)
	if err != nil {
		return nil, err
	}
	if target == api.DefaultTarget {
		target = api.ES2015
	}
	return &Script{
		opts: api.TransformOptions{
			Loader:            api.LoaderJS,
			Target:            target,
			Engines:           engines,
			MinifyWhitespace:  o.Minify,
			MinifyIdentifiers: o.Minify,
			MinifySyntax:      o.Minify,
			Sourcemap:         sourcemapMode(o.SourceMaps),
		},
		sources: o.SourceMaps,
	}, nil
}

// Name implements Stage.
func (s *Script) Name() string { return KindScript }

// Apply implements Stage.
func (s *Script) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, s.Name(), inputs, func(_ context.Context, f *File) (*File, error) {
		return runTransform(s.opts, s.sources, f, "//# sourceMappingURL=%s\n")
	})
}

// Style minifies CSS and adds the vendor prefixes its targets need.
type Style struct {
	opts    api.TransformOptions
	sources bool
}

// NewStyle builds a style stage.
func NewStyle(o Options) (*Style, error) {
	targets := o.Targets
	if len(targets) == 0 {
		targets = DefaultStyleTargets
	}
	_, engines, err := parseTargets(targets)
	if err != nil {
		return nil, err
	}
	return &Style{
		opts: api.TransformOptions{
			Loader:            api.LoaderCSS,
			Engines:           engines,
			MinifyWhitespace:  o.Minify,
			MinifyIdentifiers: o.Minify,
			MinifySyntax:      o.Minify,
			Sourcemap:         sourcemapMode(o.SourceMaps),
		},
		sources: o.SourceMaps,
	}, nil
}

// Name implements Stage.
func (s *Style) Name() string { return KindStyle }

// Apply implements Stage.
func (s *Style) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, s.Name(), inputs, func(_ context.Context, f *File) (*File, error) {
		return runTransform(s.opts, s.sources, f, "/*# sourceMappingURL=%s */\n")
	})
}

func runTransform(opts api.TransformOptions, sourceMaps bool, f *File, mapComment string) (*File, error) {
	opts.Sourcefile = mapSource(f)

	result := api.Transform(string(f.Data), opts)
	if len(result.Errors) > 0 {
		return nil, messagesError(result.Errors)
	}

	out := &File{Source: f.Source, Dest: f.Dest, Rel: f.Rel, Data: result.Code}
	if sourceMaps && len(result.Map) > 0 {
		out.Map = result.Map
		out.Data = append(out.Data, fmt.Sprintf(mapComment, path.Base(f.Rel)+".map")...)
	}
	return out, nil
}

// mapSource is the source path as seen from the map, which is written next
// to the output. Without a destination the absolute source path is used.
func mapSource(f *File) string {
	if f.Dest == "" {
		return filepath.ToSlash(f.Source)
	}
	outDir := filepath.Dir(filepath.Join(f.Dest, filepath.FromSlash(f.Rel)))
	rel, err := filepath.Rel(outDir, f.Source)
	if err != nil {
		return filepath.ToSlash(f.Source)
	}
	return filepath.ToSlash(rel)
}

func sourcemapMode(on bool) api.SourceMap {
	if on {
		return api.SourceMapExternal
	}
	return api.SourceMapNone
}

func messagesError(msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

var targetPattern = regexp.MustCompile(`^([a-z]+)([0-9][0-9.]*)?$`)

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// parseTargets splits a target list into one language level and a set of
// engine versions.
func parseTargets(targets []string) (api.Target, []api.Engine, error) {
	target := api.DefaultTarget
	var engines []api.Engine

	for _, raw := range targets {
		t := strings.ToLower(strings.TrimSpace(raw))
		if es, ok := esTargets[t]; ok {
			target = es
			continue
		}
		m := targetPattern.FindStringSubmatch(t)
		if m == nil || m[2] == "" {
			return target, nil, perrors.Configf(perrors.ErrCodeConfigInvalid, "invalid target %q", raw)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return target, nil, perrors.Configf(perrors.ErrCodeConfigInvalid, "unknown engine %q in target %q", m[1], raw)
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}

	return target, engines, nil
}
