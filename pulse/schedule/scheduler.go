package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/logger"
	"github.com/teranos/exportd/pulse/async"
)

// JobSource is the job store as the scheduler sees it.
type JobSource interface {
	ListActiveJobs(ctx context.Context) ([]jobs.Job, error)
	ListScheduleEntries(ctx context.Context, jobID int64) ([]jobs.ScheduleEntry, error)
	ListEventualRequests(ctx context.Context) ([]jobs.EventualRequest, error)
	DeleteEventualRequest(ctx context.Context, id int64) error
}

// Gater decides whether a job may run today.
type Gater interface {
	Evaluate(ctx context.Context, job jobs.Job, today time.Time) (GateResult, error)
}

// Executor runs jobs and eventual requests.
type Executor interface {
	Run(ctx context.Context, req RunRequest) (Outcome, error)
	RunEventual(ctx context.Context, ev jobs.EventualRequest) (Outcome, error)
	Cancelled(ctx context.Context, job jobs.Job, kind string, cause error)
}

// Dispatcher accepts work without blocking.
type Dispatcher interface {
	Submit(t async.Task) error
	Stats() async.Stats
}

// Config holds loop timings.
type Config struct {
	ReloadInterval time.Duration
	IdleCap        time.Duration
	IdleEmpty      time.Duration
	LoopErrorSleep time.Duration
	GateRetry      time.Duration
	Location       *time.Location
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ReloadInterval: 2 * time.Hour,
		IdleCap:        60 * time.Second,
		IdleEmpty:      120 * time.Second,
		LoopErrorSleep: 30 * time.Second,
		GateRetry:      10 * time.Minute,
		Location:       time.Local,
	}
}

// ErrGateNotReady records a gate that stayed closed after its retry.
var ErrGateNotReady = errors.Mark(errors.New("gate not ready after retry"), errors.ErrGate)

// Scheduler owns the trigger set and the loop that fires it.
type Scheduler struct {
	source JobSource
	gate   Gater
	exec   Executor
	pool   Dispatcher
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time

	mu              sync.Mutex
	triggers        []*Trigger
	inFlight        map[int64]bool
	lastReload      time.Time
	lastPass        time.Time
	reloadRequested bool
	lastIdleLine    string
	wake            chan struct{}
}

// New creates a scheduler. Zero durations in cfg take DefaultConfig values.
func New(source JobSource, gate Gater, exec Executor, pool Dispatcher, cfg Config, log *zap.SugaredLogger) *Scheduler {
	def := DefaultConfig()
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = def.ReloadInterval
	}
	if cfg.IdleCap <= 0 {
		cfg.IdleCap = def.IdleCap
	}
	if cfg.IdleEmpty <= 0 {
		cfg.IdleEmpty = def.IdleEmpty
	}
	if cfg.LoopErrorSleep <= 0 {
		cfg.LoopErrorSleep = def.LoopErrorSleep
	}
	if cfg.GateRetry <= 0 {
		cfg.GateRetry = def.GateRetry
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}
	return &Scheduler{
		source:   source,
		gate:     gate,
		exec:     exec,
		pool:     pool,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		inFlight: make(map[int64]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Run loops until ctx is cancelled. It returns nil on cancellation; the
// caller then stops the pool to wait for dispatched runs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("Pulse scheduler started",
		"reload_interval", s.cfg.ReloadInterval.String(),
		"timezone", s.cfg.Location.String())
	defer s.logger.Infow("Pulse scheduler stopped")

	for {
		sleep, err := s.Tick(ctx, s.now())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorw("Pulse loop error",
				logger.FieldError, err,
				"retry_in", sleep.String())
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RequestReload rebuilds the trigger set on the next pass and wakes the loop.
func (s *Scheduler) RequestReload() {
	s.mu.Lock()
	s.reloadRequested = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Tick runs one pass: reload when due, fire due triggers, drain eventual
// requests. It returns how long to sleep before the next pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	reloadDue := s.reloadRequested || s.lastReload.IsZero() || now.Sub(s.lastReload) >= s.cfg.ReloadInterval
	s.mu.Unlock()

	if reloadDue {
		if err := s.Reload(ctx, now); err != nil {
			return s.cfg.LoopErrorSleep, err
		}
	}

	for _, t := range s.takeDue(now) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.fire(ctx, t, now)
	}

	s.mu.Lock()
	s.lastPass = now
	s.mu.Unlock()

	if err := s.drainEventual(ctx); err != nil {
		return s.cfg.LoopErrorSleep, err
	}

	return s.idle(now), nil
}

// Reload replaces the trigger set with one resolved from the store.
// Pending gate retries of jobs that are still active survive.
func (s *Scheduler) Reload(ctx context.Context, now time.Time) error {
	active, err := s.source.ListActiveJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "reload jobs")
	}

	set := make([]JobEntries, 0, len(active))
	byID := make(map[int64]jobs.Job, len(active))
	for _, j := range active {
		entries, err := s.source.ListScheduleEntries(ctx, j.ID)
		if err != nil {
			return errors.Wrapf(err, "reload schedule of job %d", j.ID)
		}
		set = append(set, JobEntries{Job: j, Entries: entries})
		byID[j.ID] = j
	}
	// Resolve from the previous pass so occurrences between it and now fire
	s.mu.Lock()
	from := now
	if !s.lastPass.IsZero() && s.lastPass.Before(now) {
		from = s.lastPass
	}
	s.mu.Unlock()
	fresh := Resolve(set, from, s.cfg.Location, s.logger)

	s.mu.Lock()
	for _, t := range s.triggers {
		if !t.OneShot {
			continue
		}
		if j, ok := byID[t.Job.ID]; ok {
			fresh = append(fresh, RetryTrigger(j, t.Next, t.Attempt))
		}
	}
	SortTriggers(fresh)
	s.triggers = fresh
	s.lastReload = now
	s.reloadRequested = false
	s.lastIdleLine = ""
	s.mu.Unlock()

	s.logger.Infow("Pulse triggers reloaded",
		"jobs", len(active),
		"triggers", len(fresh))
	return nil
}

// takeDue removes fired one-shots, advances fired recurrences and returns
// the due triggers in fire order.
func (s *Scheduler) takeDue(now time.Time) []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Trigger
	kept := s.triggers[:0]
	for _, t := range s.triggers {
		if !t.Due(now) {
			kept = append(kept, t)
			continue
		}
		due = append(due, *t)
		if t.OneShot {
			continue
		}
		t.Advance(now)
		kept = append(kept, t)
	}
	for i := len(kept); i < len(s.triggers); i++ {
		s.triggers[i] = nil
	}
	s.triggers = kept
	SortTriggers(s.triggers)
	return due
}

// fire handles one due trigger on the loop: gate, then dispatch.
func (s *Scheduler) fire(ctx context.Context, t Trigger, now time.Time) {
	job := t.Job
	kind := jobs.KindScheduled
	if t.OneShot {
		kind = jobs.KindRetry
	}
	log := s.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldJobName, job.Name,
		logger.FieldFireTime, t.Next.Format(time.RFC3339),
		logger.FieldAttempt, t.Attempt)

	if s.isInFlight(job.ID) {
		log.Warnw("Job still running from a previous fire, skipping occurrence")
		return
	}

	if job.Gated() {
		res, err := s.gate.Evaluate(ctx, job, Today(now, s.cfg.Location))
		if err != nil {
			log.Errorw("Gate check failed, occurrence cancelled",
				logger.FieldError, err,
				logger.FieldErrorKind, errors.Kind(err))
			s.exec.Cancelled(ctx, job, kind, err)
			return
		}
		if !res.Ready {
			if t.Attempt == 0 {
				retryAt := now.Add(s.cfg.GateRetry)
				s.scheduleRetry(job, retryAt)
				log.Infow("Gate not ready, retrying once",
					"threshold", res.Threshold.Format(jobs.DateLayout),
					"open_units", res.OpenUnits(),
					"retry_at", retryAt.Format(time.RFC3339))
				return
			}
			log.Warnw("Gate still not ready, occurrence cancelled",
				"threshold", res.Threshold.Format(jobs.DateLayout),
				"open_units", res.OpenUnits())
			s.exec.Cancelled(ctx, job, kind, errors.Wrapf(ErrGateNotReady, "open units: %s", res.OpenUnits()))
			return
		}
	}

	s.dispatch(RunRequest{Job: job, Kind: kind, FireTime: t.Next}, log)
}

func (s *Scheduler) dispatch(req RunRequest, log *zap.SugaredLogger) {
	jobID := req.Job.ID
	s.setInFlight(jobID, true)
	err := s.pool.Submit(async.Task{
		Name:  req.Job.Name,
		JobID: jobID,
		Run: func(ctx context.Context) error {
			defer s.setInFlight(jobID, false)
			_, err := s.exec.Run(ctx, req)
			return err
		},
	})
	if err != nil {
		s.setInFlight(jobID, false)
		log.Errorw("Failed to dispatch job", logger.FieldError, err)
		return
	}
	log.Debugw("Job dispatched", "kind", req.Kind)
}

func (s *Scheduler) scheduleRetry(job jobs.Job, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.triggers {
		if t.OneShot && t.Job.ID == job.ID {
			return
		}
	}
	s.triggers = append(s.triggers, RetryTrigger(job, at, 1))
	SortTriggers(s.triggers)
}

// drainEventual runs every pending eventual request in order on the loop
// and deletes each after its attempt, whatever the outcome. A request
// interrupted by shutdown before it reached the warehouse is kept.
func (s *Scheduler) drainEventual(ctx context.Context) error {
	pending, err := s.source.ListEventualRequests(ctx)
	if err != nil {
		return errors.Wrap(err, "list eventual requests")
	}
	for _, ev := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.exec.RunEventual(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("Eventual request failed, discarding",
				logger.FieldRequestID, ev.ID,
				logger.FieldJobName, ev.Name,
				logger.FieldError, err)
		}
		if err := s.source.DeleteEventualRequest(context.WithoutCancel(ctx), ev.ID); err != nil {
			return errors.Wrapf(err, "delete eventual request %d", ev.ID)
		}
	}
	return nil
}

// idle computes the sleep until the next pass and logs the next fire when
// it changes.
func (s *Scheduler) idle(now time.Time) time.Duration {
	s.mu.Lock()
	var next *Trigger
	if len(s.triggers) > 0 {
		next = s.triggers[0]
	}
	s.mu.Unlock()

	if next == nil {
		s.logIdle("Pulse - no scheduled executions")
		return s.cfg.IdleEmpty
	}

	until := next.Next.Sub(now)
	if until < 0 {
		until = 0
	}

	msg := fmt.Sprintf("Pulse - next execution '%s' at %s", next.Job.Name, next.Next.Format("Mon 2006-01-02 15:04"))
	if s.pool != nil {
		st := s.pool.Stats()
		msg += fmt.Sprintf(" │ Workers: %d/%d active, %d queued", st.WorkersActive, st.WorkersTotal, st.TasksQueued)
		if st.MemoryTotalGB > 0 {
			msg += fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)", st.MemoryUsedGB, st.MemoryTotalGB, st.MemoryPercent)
		}
	}
	s.logIdle(msg)

	if until > s.cfg.IdleCap {
		return s.cfg.IdleCap
	}
	return until
}

// logIdle logs msg only when it differs from the previous idle line,
// ignoring the memory figures.
func (s *Scheduler) logIdle(msg string) {
	key := msg
	if i := strings.Index(key, " │ Mem:"); i >= 0 {
		key = key[:i]
	}
	s.mu.Lock()
	changed := key != s.lastIdleLine
	s.lastIdleLine = key
	s.mu.Unlock()
	if changed {
		s.logger.Infow(msg)
	}
}

func (s *Scheduler) isInFlight(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[jobID]
}

func (s *Scheduler) setInFlight(jobID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.inFlight[jobID] = true
	} else {
		delete(s.inFlight, jobID)
	}
}

// Triggers returns a copy of the current trigger set in fire order.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, len(s.triggers))
	for i, t := range s.triggers {
		out[i] = *t
	}
	return out
}
