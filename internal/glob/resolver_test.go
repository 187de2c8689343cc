package glob

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/errors"
)

const root = "/project"

func newFS(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, f), []byte(f), 0o644))
	}
	return fsys
}

func mustSpec(t *testing.T, include, exclude []string) PathSpec {
	t.Helper()
	spec, err := NewPathSpec(include, exclude, "dist")
	require.NoError(t, err)
	return spec
}

func TestNewPathSpecValidation(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		dest    string
		code    string
	}{
		{"empty include", nil, "dist", errors.ErrCodeEmptyGlob},
		{"empty dest", []string{"src/**"}, "", errors.ErrCodeMissingDest},
		{"unclosed class", []string{"src/[a-.js"}, "dist", errors.ErrCodeInvalidGlob},
		{"blank pattern", []string{"  "}, "dist", errors.ErrCodeInvalidGlob},
		{"escapes root", []string{"../secret/*"}, "dist", errors.ErrCodeInvalidGlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPathSpec(tt.include, nil, tt.dest)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))

			var pe *errors.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestPathSpecIsImmutable(t *testing.T) {
	include := []string{"src/**/*.js"}
	spec := mustSpec(t, include, nil)

	include[0] = "changed"
	got := spec.Include()
	got[0] = "also changed"

	assert.Equal(t, []string{"src/**/*.js"}, spec.Include())
}

func TestResolveRecursive(t *testing.T) {
	fsys := newFS(t,
		"src/js/a.js",
		"src/js/b.js",
		"src/js/vendor/c.js",
		"src/js/readme.md",
		"src/css/site.css",
	)
	r := NewResolver(fsys, root)

	paths, err := r.Resolve(mustSpec(t, []string{"src/js/**/*.js"}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/project/src/js/a.js",
		"/project/src/js/b.js",
		"/project/src/js/vendor/c.js",
	}, paths)
}

func TestResolveExcludeAfterInclude(t *testing.T) {
	fsys := newFS(t,
		"src/assets/logo.txt",
		"src/assets/fonts/a.woff",
		"src/assets/images/x.png",
		"src/assets/js/app.js",
		"src/assets/styles/site.css",
	)
	r := NewResolver(fsys, root)

	spec := mustSpec(t,
		[]string{"src/assets/**/*"},
		[]string{"src/assets/fonts/**", "src/assets/images/**", "src/assets/js/**", "src/assets/styles/**"},
	)
	matches, err := r.ResolveMatches(spec)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "/project/src/assets/logo.txt", matches[0].Path)
	assert.Equal(t, "logo.txt", matches[0].Rel)
}

func TestResolveRelativeToBase(t *testing.T) {
	fsys := newFS(t, "src/index.html", "src/blog/post.html")
	r := NewResolver(fsys, root)

	matches, err := r.ResolveMatches(mustSpec(t, []string{"src/**/*.html"}, nil))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "blog/post.html", matches[0].Rel)
	assert.Equal(t, "index.html", matches[1].Rel)
}

func TestResolveAlternation(t *testing.T) {
	fsys := newFS(t, "img/a.png", "img/b.jpg", "img/c.bmp")
	r := NewResolver(fsys, root)

	paths, err := r.Resolve(mustSpec(t, []string{"img/**/*.{png,jpg,jpeg}"}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"/project/img/a.png", "/project/img/b.jpg"}, paths)
}

func TestResolveMissingBase(t *testing.T) {
	r := NewResolver(afero.NewMemMapFs(), root)

	paths, err := r.Resolve(mustSpec(t, []string{"nothing/here/**/*.js"}, nil))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestResolveSeesNewFiles(t *testing.T) {
	fsys := newFS(t, "src/a.js")
	r := NewResolver(fsys, root)
	spec := mustSpec(t, []string{"src/*.js"}, nil)

	first, err := r.Resolve(spec)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, afero.WriteFile(fsys, "/project/src/b.js", nil, 0o644))
	second, err := r.Resolve(spec)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher(mustSpec(t, []string{"src/**/*.scss"}, []string{"src/vendor/**"}))
	require.NoError(t, err)

	assert.True(t, m.Match("src/site.scss"))
	assert.True(t, m.Match("src/a/b/c.scss"))
	assert.True(t, m.Match("./src/x.scss"))
	assert.False(t, m.Match("src/vendor/bootstrap.scss"))
	assert.False(t, m.Match("src/site.css"))
	assert.Equal(t, []string{"src"}, m.Bases())
}

func TestStaticBase(t *testing.T) {
	tests := map[string]string{
		"src/assets/js/**/*.js": "src/assets/js",
		"**/*.html":             ".",
		"src/index.html":        "src",
		"index.html":            ".",
		"src/{a,b}/x.js":        "src",
	}
	for in, want := range tests {
		assert.Equal(t, want, staticBase(in), in)
	}
}

func TestExpandGlobstar(t *testing.T) {
	assert.ElementsMatch(t, []string{"src/**/*.js", "src/*.js"}, expandGlobstar("src/**/*.js"))
	assert.ElementsMatch(t, []string{"**/a/**/b", "a/**/b", "**/a/b", "a/b"}, expandGlobstar("**/a/**/b"))
	assert.Equal(t, []string{"src/*.js"}, expandGlobstar("src/*.js"))
}

func TestResolverRel(t *testing.T) {
	r := NewResolver(afero.NewMemMapFs(), root)

	rel, ok := r.Rel("/project/src/a.js")
	assert.True(t, ok)
	assert.Equal(t, "src/a.js", rel)

	_, ok = r.Rel("/elsewhere/a.js")
	assert.False(t, ok)
	assert.Equal(t, "/project/dist", r.Abs("dist"))
}
