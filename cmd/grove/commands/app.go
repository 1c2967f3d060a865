package commands

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/notify"
	"github.com/teranos/grove/pulse/jobs"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/score"
	"github.com/teranos/grove/storage"
)

// app is the wired set of collaborators shared by the scheduler and job
// admin commands.
type app struct {
	cfg       *am.Config
	db        *sql.DB
	log       *zap.SugaredLogger
	registry  *schedule.Registry
	scheduler *schedule.Scheduler
	notifier  *notify.Dispatcher
	promReg   *prometheus.Registry
	defs      []schedule.Definition
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// newApp loads config and wires storage, scoring, notifications, the job
// registry and the scheduler. Job definitions are bootstrapped so admin
// commands always see the built-in jobs.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	manifest, _ := cmd.Flags().GetString("jobs")

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	a, err := wire(cmd.Context(), cfg, database, manifest, logger.ComponentLogger("grove"))
	if err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *am.Config, database *sql.DB, manifest string, log *zap.SugaredLogger) (*app, error) {
	clk := clock.Real{}
	engine := score.New(cfg.ScorePolicy(), clk, cfg.Hasher())
	notifier := notify.NewDispatcher(database, cfg.NotifyPolicy(), clk, log.Named("notify"))
	execs := schedule.NewExecutionStore(database)

	registry := schedule.NewRegistry()
	err := jobs.Register(registry, jobs.Deps{
		Tasks:      storage.NewTaskStore(database),
		Users:      storage.NewUserStore(database),
		Sessions:   storage.NewSessionStore(database),
		Rollups:    storage.NewRollupStore(database),
		Notifier:   notifier,
		Executions: execs,
		Engine:     engine,
		Clock:      clk,
		Logger:     log.Named("jobs"),
		Settings:   cfg.JobSettings(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to register job handlers")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return nil, err
	}
	opts.Clock = clk
	opts.Logger = log.Named("pulse")
	opts.Metrics = schedule.NewMetrics(promReg)
	opts.OnDisabled = jobs.OperatorAlert(notifier, log)

	defs := cfg.ApplyDefinitions(jobs.DefaultDefinitions())
	if manifest != "" {
		extra, err := am.LoadJobManifest(manifest)
		if err != nil {
			return nil, err
		}
		defs = am.MergeDefinitions(defs, extra)
	}

	a := &app{
		cfg:       cfg,
		db:        database,
		log:       log,
		registry:  registry,
		scheduler: schedule.New(schedule.NewStore(database), execs, registry, opts),
		notifier:  notifier,
		promReg:   promReg,
		defs:      defs,
	}

	if err := a.scheduler.Bootstrap(ctx, defs); err != nil {
		return nil, err
	}
	if _, err := am.ApplyJobOverrides(ctx, a.scheduler, cfg, log); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
