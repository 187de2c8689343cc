package config

import (
	"fmt"
	"path"
	"strings"

	perrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/transform"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Err converts the errors of the result into one configuration error, or
// nil when there are none.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	msgs := make([]string, len(vr.Errors))
	fields := make([]string, len(vr.Errors))
	for i, e := range vr.Errors {
		msgs[i] = e.Field + ": " + e.Message
		fields[i] = e.Field
	}
	return perrors.Configf(perrors.ErrCodeConfigInvalid, "invalid configuration: %s", strings.Join(msgs, "; ")).
		WithContext("fields", fields)
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks the whole configuration. Graph level problems such as
// dependency cycles are reported later, when the graph is built.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&config.Server, result)
	validateBuild(&config.Build, result)
	validateLog(&config.Log, result)

	if config.Watch.Debounce < 0 {
		result.fail("watch.debounce", config.Watch.Debounce, "debounce cannot be negative")
	}

	if len(config.Tasks) == 0 {
		result.fail("tasks", nil, "no tasks declared", "Remove the tasks key to use the default task set")
	}
	seen := make(map[string]bool, len(config.Tasks))
	for i := range config.Tasks {
		t := &config.Tasks[i]
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Name != "" {
			field = "tasks." + t.Name
			if seen[t.Name] {
				result.fail(field, t.Name, "duplicate task name")
			}
			seen[t.Name] = true
		}
		validateTask(field, t, result)
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Common development ports: 3000, 3001, 8080",
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024 for development")
	}

	if strings.ContainsAny(config.Host, ";&|$`()<>\"'\\ ") {
		result.fail("server.host", config.Host, "host contains invalid characters",
			"Use 'localhost' for local development",
			"Use '0.0.0.0' to bind to all interfaces")
	}

	if err := validateRelPath(config.Root); err != nil {
		result.fail("server.root", config.Root, err.Error(), "Serve the build output, e.g. 'dist'")
	}
}

func validateBuild(config *BuildConfig, result *ValidationResult) {
	if config.Workers < 0 {
		result.fail("build.workers", config.Workers, "workers cannot be negative",
			"Use 0 to run one task per CPU")
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.fail("log.level", config.Level, err.Error(), "Use one of debug, info, warn, error")
	}
	switch strings.ToLower(config.Format) {
	case "", "text", "json":
	default:
		result.fail("log.format", config.Format, "unknown log format", "Use 'text' or 'json'")
	}
}

func validateTask(field string, t *TaskConfig, result *ValidationResult) {
	if t.Name == "" {
		result.fail(field+".name", t.Name, "task name cannot be empty")
	}

	switch t.Reload {
	case "", "reload", "inject", "none":
	default:
		result.fail(field+".reload", t.Reload, "unknown reload mode", "Use one of reload, inject, none")
	}

	if t.IsClean() {
		if err := validateRelPath(t.Clean); err != nil {
			result.fail(field+".clean", t.Clean, err.Error())
		} else if cleanPath(t.Clean) == "." {
			result.fail(field+".clean", t.Clean, "refusing to clean the project root")
		}
		if len(t.Src.Include) > 0 || len(t.Stages) > 0 || t.Dest != "" {
			result.fail(field, t.Name, "a clean task cannot have sources, stages or a destination")
		}
		return
	}

	if len(t.Src.Include) == 0 {
		result.fail(field+".src.include", t.Src.Include, "no include patterns",
			"Add at least one pattern such as 'src/**/*.html'")
	}
	if t.Dest == "" {
		result.fail(field+".dest", t.Dest, "destination directory is empty")
	} else if err := validateRelPath(t.Dest); err != nil {
		result.fail(field+".dest", t.Dest, err.Error())
	}

	for j, s := range t.Stages {
		sf := fmt.Sprintf("%s.stages[%d]", field, j)
		if _, err := transform.New(s.Options()); err != nil {
			result.fail(sf+".kind", s.Kind, err.Error(),
				"Available kinds: "+strings.Join(transform.Kinds(), ", "))
		}
		if s.Kind == transform.KindImage && s.Optimize {
			result.warn(sf+".optimize", s.Optimize, "image optimization only re-encodes PNG files")
		}
	}

	if t.Watch && t.Reload == "none" {
		result.warn(field+".watch", t.Watch, "watched task never notifies browsers")
	}
}

// validateRelPath rejects absolute paths and paths escaping the project
// root.
func validateRelPath(p string) error {
	if p == "" {
		return nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(p) {
		return fmt.Errorf("path must be relative to the project root: %s", p)
	}
	if c := cleanPath(p); c == ".." || strings.HasPrefix(c, "../") {
		return fmt.Errorf("path escapes the project root: %s", p)
	}
	return nil
}

func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
