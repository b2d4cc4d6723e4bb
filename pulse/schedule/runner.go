package schedule

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/exportd/db"
	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/export"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/logger"
	"github.com/teranos/exportd/warehouse"
)

// Bookkeeper persists successful runs.
type Bookkeeper interface {
	UpdateLastExecution(ctx context.Context, jobID int64, ts time.Time, lastDate *time.Time) error
}

// ExecutionRecorder keeps run history.
type ExecutionRecorder interface {
	Start(ctx context.Context, jobID *int64, jobName, kind string, startedAt time.Time) (*jobs.Execution, error)
	Finish(ctx context.Context, exec *jobs.Execution, status string, completedAt time.Time, rows int64, files []string, runErr error) error
}

// RunRequest is an immutable description of one execution.
type RunRequest struct {
	Job      jobs.Job
	Kind     string // jobs.KindScheduled, KindRetry or KindEventual
	FireTime time.Time
}

// Outcome is what a run did.
type Outcome struct {
	Status string // an execution status
	Window *Window
	Result export.Result
}

// Runner executes one job end-to-end: guard, window, query, export and
// bookkeeping. It is safe for concurrent use; every run opens its own
// warehouse connection.
type Runner struct {
	connector   warehouse.Connector
	exporter    *export.Exporter
	binder      warehouse.Binder
	books       Bookkeeper
	executions  ExecutionRecorder // optional
	eventualDir string
	loc         *time.Location
	now         func() time.Time
	logger      *zap.SugaredLogger
}

// RunnerConfig holds the runner's settings.
type RunnerConfig struct {
	Binder      warehouse.Binder
	EventualDir string
	Location    *time.Location
}

// NewRunner creates a runner. executions may be nil.
func NewRunner(connector warehouse.Connector, exporter *export.Exporter, books Bookkeeper, executions ExecutionRecorder, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.ComponentLogger("runner")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.EventualDir == "" {
		cfg.EventualDir = "eventual"
	}
	return &Runner{
		connector:   connector,
		exporter:    exporter,
		binder:      cfg.Binder,
		books:       books,
		executions:  executions,
		eventualDir: cfg.EventualDir,
		loc:         cfg.Location,
		now:         time.Now,
		logger:      log,
	}
}

// Run executes req. An empty window is skipped without bookkeeping. On any
// failure bookkeeping is left untouched so the next fire recomputes the
// same window.
func (r *Runner) Run(ctx context.Context, req RunRequest) (Outcome, error) {
	job := req.Job
	log := r.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldJobName, job.Name,
		logger.FieldPolicy, string(job.Policy))
	ctx = logger.WithComponent(logger.WithJobID(ctx, job.ID), "runner")

	if err := job.Validate(); err != nil {
		log.Errorw("Job definition is invalid", logger.FieldError, err, logger.FieldErrorKind, errors.Kind(err))
		r.record(ctx, &job.ID, job.Name, req.Kind, jobs.ExecutionStatusFailed, export.Result{}, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}
	if err := export.CheckReadOnly(job.Query); err != nil {
		log.Errorw("Refusing to run query", logger.FieldError, err, logger.FieldErrorKind, errors.Kind(err))
		r.record(ctx, &job.ID, job.Name, req.Kind, jobs.ExecutionStatusFailed, export.Result{}, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}

	today := Today(r.now(), r.loc)
	window, err := ComputeWindow(job, today)
	if err != nil {
		log.Errorw("Cannot compute window", logger.FieldError, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}
	if window != nil {
		log = log.With(logger.FieldWindow, window.String())
		if window.Empty() {
			log.Warnw("Window is empty, nothing to extract")
			r.record(ctx, &job.ID, job.Name, req.Kind, jobs.ExecutionStatusSkipped, export.Result{}, nil)
			return Outcome{Status: jobs.ExecutionStatusSkipped, Window: window}, nil
		}
	}

	var exec *jobs.Execution
	if r.executions != nil {
		if exec, err = r.executions.Start(ctx, &job.ID, job.Name, req.Kind, r.now()); err != nil {
			log.Warnw("Failed to record execution start", logger.FieldError, err)
		} else {
			log = log.With(logger.FieldExecutionID, exec.ID)
		}
	}

	log.Infow("Starting extraction", "kind", req.Kind)

	var args []any
	initial := time.Time{}
	if window != nil {
		args = r.binder.Bind(window.Initial, window.Final)
		initial = window.Initial
	}
	res, err := r.extract(ctx, job.Query, args, export.Request{
		Policy:     job.Policy,
		Dir:        job.ExportPath,
		Name:       job.ExportName,
		DateColumn: job.DateColumn,
		Initial:    initial,
	})
	if err != nil {
		log.Errorw("Extraction failed",
			logger.FieldError, err,
			logger.FieldErrorKind, errors.Kind(err))
		r.finish(ctx, exec, jobs.ExecutionStatusFailed, res, err)
		return Outcome{Status: jobs.ExecutionStatusFailed, Window: window}, err
	}

	var lastDate *time.Time
	if window != nil {
		final := window.Final
		lastDate = &final
	}
	var bookErr error
	if err := r.books.UpdateLastExecution(ctx, job.ID, r.now(), lastDate); err != nil {
		bookErr = errors.Wrap(err, "bookkeeping")
		log.Errorw("Failed to record bookkeeping", logger.FieldError, err)
	}

	log.Infow("Extraction finished",
		logger.FieldRows, res.Rows,
		logger.FieldCount, len(res.Files),
		logger.FieldDurationMS, res.Duration.Milliseconds())
	r.finish(ctx, exec, jobs.ExecutionStatusCompleted, res, bookErr)
	return Outcome{Status: jobs.ExecutionStatusCompleted, Window: window, Result: res}, nil
}

// RunEventual executes a one-shot request into the eventual directory with
// the Once policy. There is no window and no bookkeeping.
func (r *Runner) RunEventual(ctx context.Context, ev jobs.EventualRequest) (Outcome, error) {
	log := r.logger.With(logger.FieldRequestID, ev.ID, logger.FieldJobName, ev.Name)
	// Only waiting for a connection follows ctx; history and export do not
	hist := context.WithoutCancel(ctx)

	if strings.TrimSpace(ev.Name) == "" || strings.ContainsAny(ev.Name, `/\`) || ev.Name == ".." {
		err := errors.NewDefinitionError("eventual request %d has an unusable name %q", ev.ID, ev.Name)
		log.Errorw("Refusing eventual request", logger.FieldError, err)
		r.record(hist, nil, ev.Name, jobs.KindEventual, jobs.ExecutionStatusFailed, export.Result{}, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}
	if err := export.CheckReadOnly(ev.Query); err != nil {
		log.Errorw("Refusing to run eventual query", logger.FieldError, err)
		r.record(hist, nil, ev.Name, jobs.KindEventual, jobs.ExecutionStatusFailed, export.Result{}, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}

	var exec *jobs.Execution
	if r.executions != nil {
		var err error
		if exec, err = r.executions.Start(hist, nil, ev.Name, jobs.KindEventual, r.now()); err != nil {
			log.Warnw("Failed to record execution start", logger.FieldError, err)
		}
	}

	log.Infow("Starting eventual extraction")
	var res export.Result
	conn, err := r.connector.Connect(ctx)
	if err == nil {
		res, err = r.exportFrom(hist, conn, ev.Query, nil, export.Request{
			Policy: jobs.PolicyOnce,
			Dir:    r.eventualDir,
			Name:   ev.Name,
		})
	}
	if err != nil {
		log.Errorw("Eventual extraction failed", logger.FieldError, err, logger.FieldErrorKind, errors.Kind(err))
		r.finish(hist, exec, jobs.ExecutionStatusFailed, res, err)
		return Outcome{Status: jobs.ExecutionStatusFailed}, err
	}

	log.Infow("Eventual extraction finished",
		logger.FieldRows, res.Rows,
		logger.FieldFile, res.Files[0],
		logger.FieldDurationMS, res.Duration.Milliseconds())
	r.finish(hist, exec, jobs.ExecutionStatusCompleted, res, nil)
	return Outcome{Status: jobs.ExecutionStatusCompleted, Result: res}, nil
}

func (r *Runner) extract(ctx context.Context, query string, args []any, req export.Request) (export.Result, error) {
	conn, err := r.connector.Connect(ctx)
	if err != nil {
		return export.Result{}, err
	}
	return r.exportFrom(ctx, conn, query, args, req)
}

// exportFrom runs query on conn and exports the result. It closes conn.
func (r *Runner) exportFrom(ctx context.Context, conn warehouse.Conn, query string, args []any, req export.Request) (export.Result, error) {
	defer conn.Close()

	cur, err := conn.Query(ctx, query, args...)
	if err != nil {
		return export.Result{}, err
	}
	defer cur.Close()

	return r.exporter.Export(ctx, cur, req)
}

// Cancelled records an occurrence that the gate stopped.
func (r *Runner) Cancelled(ctx context.Context, job jobs.Job, kind string, cause error) {
	r.record(ctx, &job.ID, job.Name, kind, jobs.ExecutionStatusCancelled, export.Result{}, cause)
}

// record stores a run that never reached the warehouse.
func (r *Runner) record(ctx context.Context, jobID *int64, name, kind, status string, res export.Result, cause error) {
	if r.executions == nil {
		return
	}
	exec, err := r.executions.Start(ctx, jobID, name, kind, r.now())
	if err != nil {
		r.historyFailed(ctx, "Failed to record execution", err, logger.FieldJobName, name)
		return
	}
	r.finish(ctx, exec, status, res, cause)
}

func (r *Runner) finish(ctx context.Context, exec *jobs.Execution, status string, res export.Result, cause error) {
	if exec == nil {
		return
	}
	if err := r.executions.Finish(ctx, exec, status, r.now(), res.Rows, res.Files, cause); err != nil {
		r.historyFailed(ctx, "Failed to record execution result", err,
			logger.FieldJobName, exec.JobName,
			logger.FieldExecutionID, exec.ID)
	}
}

// historyFailed logs a lost history write. A store closed by shutdown is
// expected and only logged at debug.
func (r *Runner) historyFailed(ctx context.Context, msg string, err error, keysAndValues ...interface{}) {
	kv := append(logger.FieldsFromContext(ctx), keysAndValues...)
	kv = append(kv, logger.FieldError, err)
	if db.IsDatabaseClosed(err) {
		r.logger.Debugw(msg, kv...)
		return
	}
	r.logger.Warnw(msg, kv...)
}
