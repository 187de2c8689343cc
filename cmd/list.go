package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sitepipe/internal/build"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l", "tasks"},
	Short:   "List tasks in execution order",
	Long: `List every configured task in the order a build runs them, with its
sources, destination, stages and dependencies. Dependencies include the
implicit edges that make clean tasks run before anything writing into the
cleaned directory.

Examples:
  sitepipe list                   # Table
  sitepipe list -f json           # JSON
  sitepipe list --format yaml     # YAML`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "text", "Output format (text, json, yaml)")
	AddFlagValidation(listCmd, "format", ValidateFormat("text", "json", "yaml"))
}

// taskEntry is the listed form of a task.
type taskEntry struct {
	Name      string   `json:"name" yaml:"name"`
	Kind      string   `json:"kind" yaml:"kind"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Include   []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude   []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Dest      string   `json:"dest" yaml:"dest"`
	Stages    string   `json:"stages,omitempty" yaml:"stages,omitempty"`
	Reload    string   `json:"reload" yaml:"reload"`
	Watch     bool     `json:"watch" yaml:"watch"`
}

func runList(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	entries := listEntries(p.graph)
	out := cmd.OutOrStdout()

	switch strings.ToLower(listFormat) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(entries)
	case "text", "":
		return printTaskTable(out, entries)
	default:
		return fmt.Errorf("unsupported format: %s", listFormat)
	}
}

func listEntries(g *build.Graph) []taskEntry {
	entries := make([]taskEntry, 0, len(g.Order()))
	for _, name := range g.Order() {
		t, _ := g.Task(name)
		e := taskEntry{
			Name:      t.Name,
			DependsOn: g.Dependencies(name),
			Dest:      t.Dest(),
			Reload:    string(t.Reload),
			Watch:     t.Watch,
		}
		if t.IsClean() {
			e.Kind = "clean"
		} else {
			e.Kind = "build"
			e.Include = t.Source.Include()
			e.Exclude = t.Source.Exclude()
			e.Stages = t.Stages.Name()
			if e.Stages == "" {
				e.Stages = "copy"
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func printTaskTable(out io.Writer, entries []taskEntry) error {
	title := cases.Title(language.English)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tKIND\tSOURCES\tDEST\tSTAGES\tRELOAD\tDEPENDS ON")
	for _, e := range entries {
		sources := strings.Join(e.Include, ", ")
		if len(e.Exclude) > 0 {
			sources += " !" + strings.Join(e.Exclude, " !")
		}
		reload := title.String(e.Reload)
		if e.Watch {
			reload += " (watched)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, title.String(e.Kind), dash(sources), e.Dest, dash(e.Stages),
			reload, dash(strings.Join(e.DependsOn, ", ")))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
