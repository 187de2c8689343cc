//go:build property
// +build property

package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestConfigurationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	properties := gopter.NewProperties(parameters)

	properties.Property("port validation matches range", prop.ForAll(
		func(port int) bool {
			cfg := &Config{
				Server: ServerConfig{Port: port, Root: "dist"},
				Tasks:  DefaultTasks(),
			}
			result := Validate(cfg)
			valid := port >= 0 && port <= 65535
			return result.HasErrors() != valid
		},
		gen.IntRange(-1000, 70000),
	))

	properties.Property("relative destinations below the root are accepted", prop.ForAll(
		func(segments []string) bool {
			dest := strings.Join(segments, "/")
			cfg := &Config{
				Server: ServerConfig{Root: "dist"},
				Tasks: []TaskConfig{{
					Name: "copy",
					Src:  SourceConfig{Include: []string{"src/**/*"}},
					Dest: dest,
				}},
			}
			return !Validate(cfg).HasErrors()
		},
		gen.SliceOfN(3, gen.RegexMatch(`^[a-z][a-z0-9_]{0,7}$`)),
	))

	properties.Property("escaping destinations are rejected", prop.ForAll(
		func(depth int, name string) bool {
			dest := strings.Repeat("../", depth) + name
			cfg := &Config{
				Server: ServerConfig{Root: "dist"},
				Tasks: []TaskConfig{{
					Name: "copy",
					Src:  SourceConfig{Include: []string{"src/**/*"}},
					Dest: dest,
				}},
			}
			return Validate(cfg).HasErrors()
		},
		gen.IntRange(1, 4),
		gen.RegexMatch(`^[a-z]{1,8}$`),
	))

	properties.Property("valid chains convert to graphs", prop.ForAll(
		func(n int) bool {
			cfg := &Config{Server: ServerConfig{Root: "dist"}}
			for i := 0; i < n; i++ {
				tc := TaskConfig{
					Name:   fmt.Sprintf("t%d", i),
					Src:    SourceConfig{Include: []string{fmt.Sprintf("src/%d/**/*", i)}},
					Dest:   fmt.Sprintf("dist/%d", i),
					Reload: "reload",
				}
				if i > 0 {
					tc.DependsOn = []string{fmt.Sprintf("t%d", i-1)}
				}
				cfg.Tasks = append(cfg.Tasks, tc)
			}
			if Validate(cfg).HasErrors() {
				return false
			}
			g, err := cfg.Graph()
			if err != nil {
				return false
			}
			order := g.Order()
			for i, name := range order {
				if name != fmt.Sprintf("t%d", i) {
					return false
				}
			}
			return len(order) == n
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
