package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
)

var buildCmd = &cobra.Command{
	Use:     "build [task...]",
	Aliases: []string{"b"},
	Short:   "Run every task once",
	Long: `Run the task graph once and exit. Clean tasks run first, every other task
runs as soon as its dependencies have finished, up to --workers at a time.

Naming tasks runs only those tasks and the tasks that depend on them. Their
own dependencies are assumed to be up to date.

The command exits non-zero when any task fails or is skipped because
something upstream failed.

Examples:
  sitepipe build                  # Clean and build everything
  sitepipe build --workers 2      # Limit concurrency
  sitepipe build --no-clean       # Keep the existing output
  sitepipe build styles           # Rebuild the styles task only`,
	Args: cobra.ArbitraryArgs,
	RunE: runBuild,
}

var buildNoClean bool

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().Int("workers", 0, "Maximum concurrent tasks (0 = one per CPU)")
	buildCmd.Flags().BoolVar(&buildNoClean, "no-clean", false, "Skip clean tasks")
}

func runBuild(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	targets, all, err := buildTargets(p.graph, args, buildNoClean)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := build.NewScheduler(p.graph, p.resolver,
		build.WithWorkers(p.cfg.Build.Workers),
		build.WithLogger(p.logger),
		build.WithRecorder(metrics.NoopRecorder{}),
	)

	op := logging.StartOperation(p.logger, "build")
	var report *build.Report
	if all {
		report = sched.Run(ctx)
	} else {
		report = sched.RunTargets(ctx, targets...)
	}

	printSummary(cmd.OutOrStdout(), report)

	if report.Failed() {
		err := report.Err()
		op.EndWithError(ctx, err, "tasks", len(report.Results))
		return fmt.Errorf("build failed: %w", err)
	}
	op.End(ctx, "tasks", len(report.Results))
	return nil
}

// buildTargets decides what a build runs. all is true when the whole graph
// runs; otherwise targets go to RunTargets. Unknown names are
// configuration errors.
func buildTargets(g *build.Graph, names []string, noClean bool) (targets []string, all bool, err error) {
	if err := g.Require(names...); err != nil {
		return nil, false, err
	}
	switch {
	case len(names) == 0 && !noClean:
		return nil, true, nil
	case len(names) == 0:
		return writerTasks(g), false, nil
	case !noClean:
		return names, false, nil
	}
	for _, name := range names {
		if t, _ := g.Task(name); !t.IsClean() {
			targets = append(targets, name)
		}
	}
	return targets, false, nil
}

// writerTasks lists every non-clean task in graph order.
func writerTasks(g *build.Graph) []string {
	var names []string
	for _, name := range g.Order() {
		if t, ok := g.Task(name); ok && !t.IsClean() {
			names = append(names, name)
		}
	}
	return names
}

// printSummary writes one row per task followed by a totals line.
func printSummary(out io.Writer, report *build.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tOUTCOME\tFILES\tSIZE\tDURATION\tREASON")

	var files int
	var bytes int64
	for _, res := range report.Results {
		files += len(res.FilesWritten)
		bytes += res.BytesWritten
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			res.Task,
			res.Outcome,
			len(res.FilesWritten),
			humanize.Bytes(uint64(res.BytesWritten)),
			res.Duration.Round(time.Millisecond),
			strings.ReplaceAll(res.Reason(), "\n", "; "))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d task(s), %d file(s), %s written in %s (run %s)\n",
		len(report.Results), files, humanize.Bytes(uint64(bytes)),
		report.Duration.Round(time.Millisecond), report.RunID)
}
