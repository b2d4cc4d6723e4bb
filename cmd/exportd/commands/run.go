package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/exportd/am"
	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/export"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/logger"
	"github.com/teranos/exportd/pulse/async"
	"github.com/teranos/exportd/pulse/schedule"
	"github.com/teranos/exportd/version"
	"github.com/teranos/exportd/warehouse"
)

// executionRetentionDays bounds the run history kept in the job store.
const executionRetentionDays = 90

// RunCmd starts the scheduler
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the extraction scheduler",
	Long: `Start the scheduler loop and its extraction workers.

The loop fires every job at its weekly schedule entries, drains eventual
requests and rebuilds its trigger set periodically or when the config file
changes. SIGINT or SIGTERM stops the loop; running extractions finish
before the process exits.`,
	RunE: runRun,
}

var runWorkers int

func init() {
	RunCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Concurrent extraction workers (default from pulse.workers)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Warehouse.DSN == "" {
		return errors.New("warehouse.dsn is not set (config file or EXPORTD_WAREHOUSE_DSN)")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	workers := cfg.Pulse.Workers
	if runWorkers > 0 {
		workers = runWorkers
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.ComponentLogger("pulse")
	store := jobs.NewStore(database)
	executions := jobs.NewExecutionStore(database)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := executions.CleanupOldExecutions(ctx, executionRetentionDays, time.Now()); err != nil {
		log.Warnw("Execution history cleanup failed", "error", err)
	} else if n > 0 {
		log.Infow("Pruned execution history", logger.FieldCount, n, "retention_days", executionRetentionDays)
	}

	connector := warehouse.NewSQLConnector(cfg.Warehouse.Driver, cfg.Warehouse.DSN,
		cfg.Warehouse.ConnectRetry(), logger.ComponentLogger("warehouse"))
	exporter := export.NewExporter(cfg.Export.DelimiterRune(), cfg.Warehouse.FetchSize)
	gate := schedule.NewGate(store, connector, schedule.GateUnit(cfg.Pulse.GateUnit), cfg.Warehouse.FetchSize)
	runner := schedule.NewRunner(connector, exporter, store, executions, schedule.RunnerConfig{
		Binder:      warehouse.Binder{Layout: cfg.Warehouse.BindLayout},
		EventualDir: cfg.Export.EventualDir,
		Location:    loc,
	}, logger.ComponentLogger("runner"))

	pool := async.NewPool(workers, log)
	pool.Start(ctx)

	scheduler := schedule.New(store, gate, runner, pool, schedule.Config{
		ReloadInterval: cfg.Pulse.ReloadInterval(),
		IdleCap:        cfg.Pulse.IdleCap(),
		IdleEmpty:      cfg.Pulse.IdleEmpty(),
		LoopErrorSleep: cfg.Pulse.LoopErrorSleep(),
		GateRetry:      cfg.Pulse.GateRetry(),
		Location:       loc,
	}, log)

	pterm.DefaultHeader.Println("exportd " + version.Get().Version)
	pterm.Info.Printfln("Job store %s, warehouse driver %s, %d workers, zone %s",
		cfg.GetDatabasePath(), cfg.Warehouse.Driver, workers, loc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if path := am.ActiveConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			log.Warnw("Config watcher unavailable, reloads follow the interval only", "path", path, "error", err)
		} else {
			watcher.OnReload(func(*am.Config) error {
				scheduler.RequestReload()
				return nil
			})
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	runErr := g.Wait()

	// In-flight extractions run to completion
	pterm.Info.Println("Waiting for running extractions to finish")
	if err := pool.Stop(context.Background()); err != nil {
		log.Errorw("Worker pool did not stop cleanly", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	pterm.Success.Println("Scheduler stopped")
	return nil
}
