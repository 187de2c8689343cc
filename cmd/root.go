// Package cmd provides the sitepipe command-line interface.
//
// Configuration is merged from several sources, highest priority first:
//
//  1. Command-line flags (--port, --workers, --log-level, ...)
//  2. SITEPIPE_* environment variables, including those loaded from .env
//  3. The configuration file: --config, else SITEPIPE_CONFIG_FILE, else
//     .sitepipe.yml in the current directory
//  4. Built-in defaults
//
// Environment variables follow the SITEPIPE_<SECTION>_<OPTION> pattern,
// e.g. SITEPIPE_SERVER_PORT or SITEPIPE_LOG_LEVEL.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/config"
	"github.com/conneroisu/sitepipe/internal/glob"
	"github.com/conneroisu/sitepipe/internal/logging"
)

var (
	cfgFile string
	envFile string

	// settings holds the configuration sources of the running command.
	settings *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "sitepipe",
	Short: "Build and live-reload static site assets",
	Long: `sitepipe runs a declarative graph of asset build tasks: scripts, styles,
markup, markdown, images and external tools, each reading a set of globs and
writing into its own destination tree.

Quick Start:
  sitepipe build                  Run every task once
  sitepipe watch                  Build, serve dist and rebuild on change
  sitepipe list                   Show tasks in execution order

Tasks are declared in .sitepipe.yml; without one a conventional src -> dist
layout is built.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sitepipe.yml, can also use SITEPIPE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	AddFlagValidation(rootCmd, "log-format", ValidateFormat("text", "json"))
}

// initConfig prepares the configuration sources for the command being run.
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	explicit := cfgFile
	if explicit == "" {
		explicit = os.Getenv("SITEPIPE_CONFIG_FILE")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".sitepipe")
	}
	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := bindFlags(v, cmd.Root().PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	}); err != nil {
		return err
	}
	if err := bindFlags(v, cmd.Flags(), commandBindings[cmd.Name()]); err != nil {
		return err
	}

	settings = v
	return nil
}

// commandBindings maps each command's flags to configuration keys.
var commandBindings = map[string]map[string]string{
	"build": {"workers": "build.workers"},
	"watch": {
		"workers":  "build.workers",
		"host":     "server.host",
		"port":     "server.port",
		"root":     "server.root",
		"debounce": "watch.debounce",
	},
}

// project is the loaded configuration with everything derived from it.
type project struct {
	cfg      *config.Config
	logger   logging.Logger
	graph    *build.Graph
	resolver *glob.Resolver
}

func loadProject(cmd *cobra.Command) (*project, error) {
	if settings == nil {
		settings = viper.New()
	}
	cfg, err := config.LoadFrom(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	for _, w := range cfg.Warnings {
		logger.Warn(context.Background(), nil, "Configuration warning",
			"field", w.Field, "message", w.Message)
	}

	graph, err := cfg.Graph()
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Build.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	logger.Debug(context.Background(), "Configuration loaded",
		"config_file", settings.ConfigFileUsed(),
		"project_root", root,
		"tasks", len(cfg.Tasks))

	return &project{
		cfg:      cfg,
		logger:   logger,
		graph:    graph,
		resolver: glob.NewResolver(afero.NewOsFs(), root),
	}, nil
}
