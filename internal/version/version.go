// Package version reports how the sitepipe binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X .../internal/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = ""
)

// Info is the merged build information.
type Info struct {
	Version   string    `json:"version" yaml:"version"`
	Commit    string    `json:"commit" yaml:"commit"`
	Date      time.Time `json:"date,omitempty" yaml:"date,omitempty"`
	Modified  bool      `json:"modified" yaml:"modified"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
}

// Get returns linker-provided values, falling back to the VCS stamps the
// Go toolchain embeds in the binary.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      parseTime(Date),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = merge(info, bi.Main.Version, bi.Settings)
	}
	return info
}

func merge(info Info, mainVersion string, settings []debug.BuildSetting) Info {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" || info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date.IsZero() {
				info.Date = parseTime(s.Value)
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	if info.Version == "" || info.Version == "dev" {
		switch {
		case mainVersion != "" && mainVersion != "(devel)":
			info.Version = mainVersion
		case len(info.Commit) >= 7 && info.Commit != "unknown":
			info.Version = "dev-" + info.Commit[:7]
		default:
			info.Version = "dev"
		}
	}
	return info
}

// IsRelease reports whether the binary carries a real version.
func (i Info) IsRelease() bool {
	return i.Version != "dev" && !strings.HasPrefix(i.Version, "dev-")
}

// Short is a one-line version such as "v1.2.0 (abc1234)".
func (i Info) Short() string {
	s := i.Version
	if i.IsRelease() && len(i.Commit) >= 7 && i.Commit != "unknown" {
		s += " (" + i.Commit[:7] + ")"
	}
	if i.Modified {
		s += " (dirty)"
	}
	return s
}

// String is the multi-line form printed by `sitepipe version --detailed`.
func (i Info) String() string {
	lines := []string{"Version: " + i.Version}
	if i.Commit != "" && i.Commit != "unknown" {
		lines = append(lines, "Commit: "+i.Commit)
	}
	if !i.Date.IsZero() {
		lines = append(lines, "Built: "+i.Date.UTC().Format(time.RFC3339))
	}
	lines = append(lines,
		fmt.Sprintf("Go: %s", i.GoVersion),
		fmt.Sprintf("Platform: %s", i.Platform))
	if i.Modified {
		lines = append(lines, "Working directory: dirty")
	}
	return strings.Join(lines, "\n")
}

// GetShortVersion returns Get().Short().
func GetShortVersion() string {
	return Get().Short()
}

// parseTime accepts RFC 3339 and a few looser forms; anything else is zero.
func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
