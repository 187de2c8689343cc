package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/build"
	perrors "github.com/conneroisu/sitepipe/internal/errors"
)

func fromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestLoadDefaults(t *testing.T) {
	config, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 3001, config.Server.Port)
	assert.Equal(t, "dist", config.Server.Root)
	assert.Equal(t, 0, config.Build.Workers)
	assert.Equal(t, ".", config.Build.ProjectRoot)
	assert.Equal(t, 200*time.Millisecond, config.Watch.Debounce)
	assert.Equal(t, "sitepipe.reload", config.Notify.NATSSubject)
	assert.Empty(t, config.Notify.NATSURL)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)

	names := make([]string, len(config.Tasks))
	for i, task := range config.Tasks {
		names[i] = task.Name
	}
	assert.Equal(t, []string{"clean", "scripts", "styles", "markup", "images", "fonts", "other"}, names)
}

func TestLoadGlobalViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("server.port", 8080)

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestDefaultTasksFormAGraph(t *testing.T) {
	config, err := LoadFrom(viper.New())
	require.NoError(t, err)

	g, err := config.Graph()
	require.NoError(t, err)

	order := g.Order()
	require.NotEmpty(t, order)
	assert.Equal(t, "clean", order[0])
	for _, name := range order[1:] {
		assert.Contains(t, g.Dependencies(name), "clean", name)
	}

	styles, ok := g.Task("styles")
	require.True(t, ok)
	assert.Equal(t, build.ReloadInject, styles.Reload)
	assert.True(t, styles.Watch)
	assert.Equal(t, "dist/assets/styles", styles.Dest())

	clean, ok := g.Task("clean")
	require.True(t, ok)
	assert.True(t, clean.IsClean())
	assert.Equal(t, build.ReloadNone, clean.Reload)
}

func TestLoadTasksFromYAML(t *testing.T) {
	v := fromYAML(t, `
server:
  port: 4000
  root: public
watch:
  debounce: 150ms
tasks:
  - name: wipe
    clean: public
  - name: pages
    src:
      include: ["content/**/*.md"]
      exclude: ["content/drafts/**"]
    dest: public
    stages:
      - kind: markdown
      - kind: markup
        minify: true
    watch: true
  - name: bundle
    depends_on: [pages]
    src:
      include: ["js/**/*.js"]
    dest: public/js
    stages:
      - kind: script
        minify: true
        source_maps: true
        targets: [es2017]
    reload: none
`)

	config, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 4000, config.Server.Port)
	assert.Equal(t, "public", config.Server.Root)
	assert.Equal(t, 150*time.Millisecond, config.Watch.Debounce)
	require.Len(t, config.Tasks, 3)

	pages := config.Tasks[1]
	assert.Equal(t, []string{"content/drafts/**"}, pages.Src.Exclude)
	assert.Equal(t, "reload", pages.Reload)
	require.Len(t, pages.Stages, 2)
	assert.True(t, pages.Stages[1].Minify)

	bundle := config.Tasks[2]
	assert.Equal(t, []string{"pages"}, bundle.DependsOn)
	assert.True(t, bundle.Stages[0].SourceMaps)
	assert.Equal(t, []string{"es2017"}, bundle.Stages[0].Targets)

	g, err := config.Graph()
	require.NoError(t, err)
	assert.Equal(t, []string{"wipe", "pages", "bundle"}, g.Order())

	task, ok := g.Task("pages")
	require.True(t, ok)
	assert.Equal(t, "markdown|markup", task.Stages.Name())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SITEPIPE_SERVER_PORT", "4321")
	t.Setenv("SITEPIPE_LOG_LEVEL", "debug")
	t.Setenv("SITEPIPE_WATCH_DEBOUNCE", "1s")

	v := viper.New()
	BindEnv(v)
	config, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 4321, config.Server.Port)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, time.Second, config.Watch.Debounce)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("SITEPIPE_TEST_DOTENV=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SITEPIPE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(file))
	assert.Equal(t, "from-file", os.Getenv("SITEPIPE_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "port out of range",
			doc:   "server: {port: 70000}",
			field: "server.port",
		},
		{
			name:  "bad log level",
			doc:   "log: {level: loud}",
			field: "log.level",
		},
		{
			name:  "bad log format",
			doc:   "log: {format: xml}",
			field: "log.format",
		},
		{
			name:  "negative workers",
			doc:   "build: {workers: -1}",
			field: "build.workers",
		},
		{
			name:  "clean root",
			doc:   "tasks: [{name: nuke, clean: .}]",
			field: "tasks.nuke.clean",
		},
		{
			name:  "clean outside root",
			doc:   "tasks: [{name: nuke, clean: ../elsewhere}]",
			field: "tasks.nuke.clean",
		},
		{
			name:  "missing include",
			doc:   "tasks: [{name: x, dest: dist}]",
			field: "tasks.x.src.include",
		},
		{
			name:  "missing dest",
			doc:   "tasks: [{name: x, src: {include: ['a/*']}}]",
			field: "tasks.x.dest",
		},
		{
			name:  "absolute dest",
			doc:   "tasks: [{name: x, src: {include: ['a/*']}, dest: /tmp/out}]",
			field: "tasks.x.dest",
		},
		{
			name:  "unknown stage",
			doc:   "tasks: [{name: x, src: {include: ['a/*']}, dest: out, stages: [{kind: sass}]}]",
			field: "tasks.x.stages[0].kind",
		},
		{
			name:  "unknown reload mode",
			doc:   "tasks: [{name: x, src: {include: ['a/*']}, dest: out, reload: sometimes}]",
			field: "tasks.x.reload",
		},
		{
			name:  "duplicate task",
			doc:   "tasks: [{name: x, clean: out}, {name: x, clean: out2}]",
			field: "tasks.x",
		},
		{
			name:  "unnamed task",
			doc:   "tasks: [{clean: out}]",
			field: "tasks[0].name",
		},
		{
			name:  "clean with sources",
			doc:   "tasks: [{name: x, clean: out, src: {include: ['a/*']}}]",
			field: "tasks.x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadFrom(fromYAML(t, tt.doc))
			require.Error(t, err)
			assert.Nil(t, config)
			assert.True(t, perrors.IsConfig(err), "want configuration error, got %v", err)

			var pe *perrors.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Context["fields"], tt.field)
		})
	}
}

func TestValidationWarnings(t *testing.T) {
	config := &Config{
		Server: ServerConfig{Port: 80, Root: "dist"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Tasks: []TaskConfig{{
			Name:   "x",
			Src:    SourceConfig{Include: []string{"a/*"}},
			Dest:   "out",
			Reload: "none",
			Watch:  true,
			Stages: []StageConfig{{Kind: "image", Optimize: true}},
		}},
	}

	result := Validate(config)
	assert.True(t, result.Valid)
	assert.False(t, result.HasErrors())
	assert.NoError(t, result.Err())
	require.True(t, result.HasWarnings())
	assert.Len(t, result.Warnings, 3)
	assert.Contains(t, result.String(), "Validation warnings")
}

func TestLoadKeepsWarnings(t *testing.T) {
	config, err := LoadFrom(fromYAML(t, `
tasks:
  - name: icons
    src: {include: ["src/icons/*.png"]}
    dest: dist/icons
    stages: [{kind: image, optimize: true}]
    reload: none
    watch: true
`))
	require.NoError(t, err)
	require.Len(t, config.Warnings, 2)

	fields := []string{config.Warnings[0].Field, config.Warnings[1].Field}
	assert.Contains(t, fields[0]+fields[1], "tasks[0]")

	clean, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Empty(t, clean.Warnings)
}

func TestGraphReportsCycles(t *testing.T) {
	config, err := LoadFrom(fromYAML(t, `
tasks:
  - {name: a, depends_on: [b], src: {include: ["a/*"]}, dest: out/a}
  - {name: b, depends_on: [a], src: {include: ["b/*"]}, dest: out/b}
`))
	require.NoError(t, err)

	_, err = config.Graph()
	require.Error(t, err)
	assert.True(t, perrors.IsConfig(err))
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestTaskConversionCarriesTaskName(t *testing.T) {
	tc := TaskConfig{
		Name:   "scripts",
		Src:    SourceConfig{Include: []string{"src/[bad"}},
		Dest:   "dist",
		Reload: "reload",
	}
	_, err := tc.Task()
	require.Error(t, err)

	var pe *perrors.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "scripts", pe.Task)
}
