package build

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewOutputCache()
	target := "/out/a.txt"

	assert.False(t, c.Unchanged(fs, target, []byte("one")))

	require.NoError(t, afero.WriteFile(fs, target, []byte("one"), 0o644))
	c.Store(fs, target, []byte("one"))
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.Unchanged(fs, target, []byte("one")))
	assert.False(t, c.Unchanged(fs, target, []byte("two")))
	assert.False(t, c.Unchanged(fs, target, []byte("onE")))

	require.NoError(t, fs.Remove(target))
	assert.False(t, c.Unchanged(fs, target, []byte("one")), "deleted file must be rewritten")

	assert.InDelta(t, 20.0, c.GetHitRate(), 0.001)
}

func TestOutputCacheDetectsExternalEdits(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewOutputCache()
	target := "/out/a.txt"

	require.NoError(t, afero.WriteFile(fs, target, []byte("one"), 0o644))
	c.Store(fs, target, []byte("one"))

	require.NoError(t, afero.WriteFile(fs, target, []byte("xyz"), 0o644))
	require.NoError(t, fs.Chtimes(target, time.Now(), time.Now().Add(time.Second)))
	assert.False(t, c.Unchanged(fs, target, []byte("one")))
}

func TestOutputCacheForget(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewOutputCache()
	for _, p := range []string{"/dist/a", "/dist/sub/b", "/dist2/c"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte(p), 0o644))
		c.Store(fs, p, []byte(p))
	}

	assert.Equal(t, 2, c.Forget("/dist"))
	assert.Equal(t, 1, c.Len())
}

func TestRebuildSkipsUnchangedOutputs(t *testing.T) {
	fs, r := newProject(t, map[string]string{
		"src/a.txt": "alpha",
		"src/b.txt": "beta",
	})
	s := schedule(t, r, []*Task{
		{Name: "copy", Source: mustSpec(t, "dist", "src/*.txt")},
	})

	first := s.Run(context.Background())
	require.False(t, first.Failed(), first.Err())
	res, _ := first.Result("copy")
	assert.EqualValues(t, 9, res.BytesWritten)

	info, err := fs.Stat(filepath.Join(root, "dist/a.txt"))
	require.NoError(t, err)
	mod := info.ModTime()

	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "src/b.txt"), []byte("BETA!"), 0o644))

	second := s.Run(context.Background())
	require.False(t, second.Failed(), second.Err())
	res, _ = second.Result("copy")
	assert.Len(t, res.FilesWritten, 2)
	assert.EqualValues(t, 5, res.BytesWritten)
	assert.Equal(t, "BETA!", readFile(t, fs, "dist/b.txt"))

	info, err = fs.Stat(filepath.Join(root, "dist/a.txt"))
	require.NoError(t, err)
	assert.True(t, mod.Equal(info.ModTime()), "unchanged output was rewritten")
}

func TestCleanInvalidatesOutputCache(t *testing.T) {
	fs, r := newProject(t, map[string]string{"src/a.txt": "alpha"})
	s := schedule(t, r, []*Task{
		{Name: "clean", Clean: "dist"},
		{Name: "copy", Source: mustSpec(t, "dist", "src/*.txt")},
	})

	for i := 0; i < 2; i++ {
		report := s.Run(context.Background())
		require.False(t, report.Failed(), report.Err())
		res, _ := report.Result("copy")
		assert.EqualValues(t, 5, res.BytesWritten, "run %d", i)
		assert.Equal(t, "alpha", readFile(t, fs, "dist/a.txt"))
	}
}

func TestOutputCacheCanBeDisabled(t *testing.T) {
	_, r := newProject(t, map[string]string{"src/a.txt": "alpha"})
	s := schedule(t, r, []*Task{
		{Name: "copy", Source: mustSpec(t, "dist", "src/*.txt")},
	}, WithOutputCache(nil))

	for i := 0; i < 2; i++ {
		report := s.Run(context.Background())
		res, _ := report.Result("copy")
		assert.EqualValues(t, 5, res.BytesWritten)
	}
}
