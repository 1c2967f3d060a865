package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/sym"
)

func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: sym.Pulse + " Run the job scheduler",
		Long: sym.Pulse + ` The scheduler arms one timer per enabled job and runs it on its
cadence: minutely session advancement, hourly reminders and task regeneration,
daily streaks, rollups, counter resets and archiving.

A job that fails max_retries times in a row is disabled and an operator
notification is queued. Re-enable it with "grove jobs toggle <id> on".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon in the foreground",
		Long: `Start the scheduler in the foreground until interrupted (Ctrl+C).

Changes to ~/.grove/am_overrides.toml (written by "grove jobs toggle --persist")
are picked up while running.`,
		RunE: runSchedulerStart,
	}
	start.Flags().String("jobs", "", "TOML manifest of job definitions merged over the built-ins")
	start.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.scheduler.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Jobs:       %d\n", st.Jobs)
			fmt.Fprintf(out, "Registered: %d\n", st.Registered)
			fmt.Fprintf(out, "Disabled:   %d\n", st.Disabled)
			fmt.Fprintf(out, "Attention:  %d\n", st.Attention)
			return nil
		},
	}

	cmd.AddCommand(start, status)
	return cmd
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = a.cfg.Scheduler.MetricsAddr
	}
	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorw("Metrics server failed", logger.FieldError, err)
			}
		}()
	}

	watcher := watchOverrides(ctx, a)
	if watcher != nil {
		defer watcher.Stop()
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	st, err := a.scheduler.Status(ctx)
	if err != nil {
		return err
	}
	pterm.Success.Printf("%s Scheduler started\n", sym.PulseOpen)
	pterm.Printf("  Jobs armed: %d of %d\n", st.Armed, st.Jobs)
	pterm.Printf("  Alignment:  %s\n", a.cfg.Scheduler.Alignment)
	pterm.Printf("  Timeout:    %s\n", a.cfg.Scheduler.ExecutionTimeout())
	if metricsAddr != "" {
		pterm.Printf("  Metrics:    http://%s/metrics\n", metricsAddr)
	}
	if st.Attention > 0 {
		pterm.Warning.Printf("%d job(s) disabled after repeated failures\n", st.Attention)
	}
	pterm.Info.Println("Press Ctrl+C to stop")

	<-ctx.Done()

	pterm.Info.Printf("%s Stopping scheduler, waiting for running jobs...\n", sym.PulseClose)
	a.scheduler.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	pterm.Success.Println("Scheduler stopped")
	return nil
}

// watchOverrides re-applies scheduler.jobs.<id>.enabled whenever the
// overrides file changes. It returns nil when the file cannot be watched.
func watchOverrides(ctx context.Context, a *app) *am.ConfigWatcher {
	path := am.OverridesPath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(am.UserConfigDir(), am.DefaultDirPermissions); err != nil {
		a.log.Warnw("Config directory unavailable, job overrides will not reload", logger.FieldError, err)
		return nil
	}

	w, err := am.NewConfigWatcher(path, a.log.Named("am"))
	if err != nil {
		a.log.Warnw("Config watcher unavailable", logger.FieldError, err)
		return nil
	}
	w.OnReload(func(cfg *am.Config) error {
		n, err := am.ApplyJobOverrides(ctx, a.scheduler, cfg, a.log)
		if n > 0 {
			a.log.Infow("Job overrides reloaded", logger.FieldCount, n)
		}
		return err
	})
	am.SetGlobalWatcher(w)
	w.Start()
	return w
}
