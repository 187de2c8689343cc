// Package config loads sitepipe's configuration using Viper from
// .sitepipe.yml, SITEPIPE_ environment variables, a .env file and command
// line flags.
//
// Besides server, watch and logging settings the configuration declares
// the build tasks. When no tasks are configured the defaults reproduce a
// conventional static site layout: dist is cleaned, then scripts, styles,
// markup, images, fonts and other assets are built from src in parallel.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SITEPIPE_SERVER_PORT.
const EnvPrefix = "SITEPIPE"

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Build  BuildConfig  `mapstructure:"build" yaml:"build"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Tasks  []TaskConfig `mapstructure:"tasks" yaml:"tasks"`

	// Warnings are the non-fatal findings of validation, set by LoadFrom.
	Warnings []ValidationError `mapstructure:"-" yaml:"-"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Root is the directory served, relative to the project root.
	Root           string   `mapstructure:"root" yaml:"root"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type BuildConfig struct {
	// Workers bounds concurrent tasks; 0 means one per CPU.
	Workers     int    `mapstructure:"workers" yaml:"workers"`
	ProjectRoot string `mapstructure:"project_root" yaml:"project_root"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type NotifyConfig struct {
	// NATSURL enables publishing reload notifications to NATS.
	NATSURL     string `mapstructure:"nats_url" yaml:"nats_url,omitempty"`
	NATSSubject string `mapstructure:"nats_subject" yaml:"nats_subject"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TaskConfig declares one build task. A task with Clean set removes that
// directory and takes no sources or stages.
type TaskConfig struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	DependsOn []string      `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Clean     string        `mapstructure:"clean" yaml:"clean,omitempty"`
	Src       SourceConfig  `mapstructure:"src" yaml:"src,omitempty"`
	Dest      string        `mapstructure:"dest" yaml:"dest,omitempty"`
	Stages    []StageConfig `mapstructure:"stages" yaml:"stages,omitempty"`
	Reload    string        `mapstructure:"reload" yaml:"reload,omitempty"`
	Watch     bool          `mapstructure:"watch" yaml:"watch,omitempty"`
}

type SourceConfig struct {
	Include []string `mapstructure:"include" yaml:"include,omitempty"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

type StageConfig struct {
	Kind       string   `mapstructure:"kind" yaml:"kind"`
	SourceMaps bool     `mapstructure:"source_maps" yaml:"source_maps,omitempty"`
	Minify     bool     `mapstructure:"minify" yaml:"minify,omitempty"`
	Targets    []string `mapstructure:"targets" yaml:"targets,omitempty"`
	Optimize   bool     `mapstructure:"optimize" yaml:"optimize,omitempty"`
	Command    string   `mapstructure:"command" yaml:"command,omitempty"`
	Args       []string `mapstructure:"args" yaml:"args,omitempty"`
	Ext        string   `mapstructure:"ext" yaml:"ext,omitempty"`
	Dir        string   `mapstructure:"dir" yaml:"dir,omitempty"`
}

// IsClean reports whether the task is a clean task.
func (t TaskConfig) IsClean() bool { return t.Clean != "" }

// SetDefaults registers default values on v. Registering every scalar key
// also lets AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.root", "dist")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("build.workers", 0)
	v.SetDefault("build.project_root", ".")
	v.SetDefault("watch.debounce", "200ms")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.nats_subject", "sitepipe.reload")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindEnv enables SITEPIPE_ environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv exports the variables of a .env file into the process
// environment without overriding existing ones. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if len(config.Tasks) == 0 {
		config.Tasks = DefaultTasks()
	}
	if config.Build.ProjectRoot == "" {
		config.Build.ProjectRoot = "."
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = 200 * time.Millisecond
	}
	for i := range config.Tasks {
		if config.Tasks[i].Reload == "" && !config.Tasks[i].IsClean() {
			config.Tasks[i].Reload = "reload"
		}
	}

	result := Validate(&config)
	if result.HasErrors() {
		return nil, result.Err()
	}
	config.Warnings = result.Warnings
	return &config, nil
}

// DefaultTasks is the task set used when none are configured.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{Name: "clean", Clean: "dist"},
		{
			Name:   "scripts",
			Src:    SourceConfig{Include: []string{"src/assets/js/**/*.js"}},
			Dest:   "dist/assets/js",
			Stages: []StageConfig{{Kind: "script", Minify: true, SourceMaps: true, Targets: []string{"es2015"}}},
			Reload: "reload",
			Watch:  true,
		},
		{
			Name:   "styles",
			Src:    SourceConfig{Include: []string{"src/assets/styles/**/*.css"}},
			Dest:   "dist/assets/styles",
			Stages: []StageConfig{{Kind: "style", Minify: true, SourceMaps: true}},
			Reload: "inject",
			Watch:  true,
		},
		{
			Name: "markup",
			Src: SourceConfig{
				Include: []string{"src/**/*.html"},
				Exclude: []string{"src/assets/**", "src/sass/**"},
			},
			Dest:   "dist",
			Stages: []StageConfig{{Kind: "markup", Minify: true}},
			Reload: "reload",
			Watch:  true,
		},
		{
			Name:   "images",
			Src:    SourceConfig{Include: []string{"src/assets/images/**/*.{gif,png,jpg,jpeg,svg}"}},
			Dest:   "dist/assets/images",
			Stages: []StageConfig{{Kind: "image"}},
			Reload: "reload",
		},
		{
			Name:   "fonts",
			Src:    SourceConfig{Include: []string{"src/assets/fonts/**/*"}},
			Dest:   "dist/assets/fonts",
			Reload: "reload",
		},
		{
			Name: "other",
			Src: SourceConfig{
				Include: []string{"src/assets/**/*"},
				Exclude: []string{
					"src/assets/fonts/**",
					"src/assets/images/**",
					"src/assets/js/**",
					"src/assets/styles/**",
				},
			},
			Dest:   "dist/assets",
			Reload: "reload",
		},
	}
}
