package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/notify"
	"github.com/conneroisu/sitepipe/internal/server"
	"github.com/conneroisu/sitepipe/internal/watcher"
	"github.com/conneroisu/sitepipe/internal/websocket"
)

var watchCmd = &cobra.Command{
	Use:     "watch [task...]",
	Aliases: []string{"w", "serve"},
	Short:   "Build, serve and rebuild on change",
	Long: `Run the task graph once, start the development server and re-run tasks
whose sources change. Connected browsers reload, or have their stylesheets
swapped in place for tasks with reload: inject.

Naming tasks limits the initial build and watching to those tasks and the
tasks that depend on them.

Each watched task waits for --debounce of quiet before it runs, never runs
twice at once, and sends one notification per run. Ctrl-C stops watching,
lets running tasks finish and exits.

Examples:
  sitepipe watch                  # Serve dist on localhost:3001
  sitepipe watch --port 8080      # Use a different port
  sitepipe watch --debounce 500ms # Wait longer for editors that save twice
  sitepipe watch styles           # Only rebuild stylesheets`,
	Args: cobra.ArbitraryArgs,
	RunE: runWatch,
}

// shutdownTimeout bounds how long in-flight runs may take after Ctrl-C.
const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("host", "localhost", "Host to bind to")
	watchCmd.Flags().IntP("port", "p", 3001, "Port to serve on")
	watchCmd.Flags().String("root", "dist", "Directory to serve, relative to the project root")
	watchCmd.Flags().Duration("debounce", watcher.DefaultDebounce, "Quiet period before a changed task runs")
	watchCmd.Flags().Int("workers", 0, "Maximum concurrent tasks (0 = one per CPU)")

	AddFlagValidation(watchCmd, "port", ValidatePort)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	if err := p.graph.Require(args...); err != nil {
		return err
	}
	cfg := p.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewPrometheusRecorder(nil)
	stats := build.NewBuildMetrics()
	sched := build.NewScheduler(p.graph, p.resolver,
		build.WithWorkers(cfg.Build.Workers),
		build.WithLogger(p.logger),
		build.WithRecorder(recorder),
		build.WithStats(stats),
	)

	hub := websocket.NewHub(
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		websocket.WithHubLogger(p.logger),
		websocket.WithHubRecorder(recorder),
	)
	activity := notify.NewRecorder(50)
	notifiers := notify.Multi{hub, activity}

	if cfg.Notify.NATSURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			return err
		}
		defer nn.Close()
		notifiers = append(notifiers, nn)
		p.logger.Info(ctx, "Publishing reload notifications", "url", cfg.Notify.NATSURL, "subject", nn.Subject())
	}

	coordinator, err := watcher.NewCoordinator(p.graph, sched, p.resolver,
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithNotifier(notifiers),
		watcher.WithLogger(p.logger),
		watcher.WithPublicRoot(cfg.Server.Root),
		watcher.WithTasks(args...),
	)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Fs:       afero.NewOsFs(),
		Root:     p.resolver.Abs(cfg.Server.Root),
		Hub:      hub,
		Logger:   p.logger,
		Metrics:  recorder,
		Stats:    stats,
		Activity: activity,
		Tasks:    p.graph.Order(),
	})

	// Watching starts before the initial build so edits made while it runs
	// are picked up. Runs of the same task are serialised by the scheduler.
	if err := coordinator.Start(ctx); err != nil {
		_ = hub.Shutdown(context.Background())
		return fmt.Errorf("failed to start watching: %w", err)
	}

	var report *build.Report
	if len(args) == 0 {
		report = sched.Run(ctx)
	} else {
		report = sched.RunTargets(ctx, args...)
	}
	printSummary(cmd.OutOrStdout(), report)
	if report.Failed() && ctx.Err() == nil {
		p.logger.Warn(ctx, report.Err(), "Initial build failed, watching anyway")
	}

	serveErr := make(chan error, 1)
	if ctx.Err() == nil {
		go func() { serveErr <- srv.Start(ctx) }()

		fmt.Fprintf(cmd.OutOrStdout(), "\nServing %s at %s (status: %s/__sitepipe/status)\n", cfg.Server.Root, srv.URL(), srv.URL())
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %d task(s). Press Ctrl+C to stop.\n", len(coordinator.Tasks()))

		select {
		case <-ctx.Done():
		case err = <-serveErr:
		}
	}

	p.logger.Info(context.Background(), "Shutting down")
	return shutdownWatch(p.logger, coordinator, srv, err)
}

// shutdownWatch drains the coordinator, then closes the server and the
// websocket hub. cause is returned unchanged.
func shutdownWatch(logger logging.Logger, coordinator *watcher.Coordinator, srv *server.Server, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := coordinator.Stop(ctx); err != nil {
		logger.Warn(ctx, err, "Watch runs did not finish in time")
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn(ctx, err, "Server shutdown failed")
	}
	return cause
}
