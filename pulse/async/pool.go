// Package async runs extraction tasks on a fixed set of workers.
//
// Submission never blocks the caller: tasks beyond the number of idle
// workers wait in an in-memory FIFO. Stop lets every accepted task finish.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/logger"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 5

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of work.
type Task struct {
	Name  string // for logs
	JobID int64  // 0 for tasks not tied to a job
	Run   func(ctx context.Context) error
}

// pulseLogger distinguishes opening and closing events in the log.
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event at DEBUG.
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a closing event at WARN.
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
	logger  pulseLogger

	mu        sync.Mutex
	cond      *sync.Cond
	ctx       context.Context
	queue     []Task
	started   bool
	stopping  bool
	active    int
	completed int64
	failed    int64
	panicked  int64
	startTime time.Time
	wg        sync.WaitGroup
}

// NewPool creates a pool of n workers. n < 1 uses DefaultWorkers.
func NewPool(n int, log *zap.SugaredLogger) *Pool {
	if n < 1 {
		n = DefaultWorkers
	}
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}
	p := &Pool{
		workers: n,
		logger:  pulseLogger{log},
		ctx:     context.Background(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Tasks run with a context that keeps ctx's
// values but is never cancelled with it, so a shutdown does not interrupt
// an extraction halfway through a file.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx = context.WithoutCancel(ctx)
	p.startTime = time.Now()
	p.mu.Unlock()

	if warning := p.checkMemoryPressure(); warning != "" {
		p.logger.Warnw("Memory pressure warning", "warning", warning, "workers", p.workers)
	}

	p.logger.Starting("Starting worker pool", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues t and returns immediately.
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return errors.New("task has no run function")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return errors.Wrapf(ErrPoolStopped, "submit %s", t.Name)
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

// Stop refuses new tasks and waits for running and queued ones to finish.
// It returns early with ctx's error if ctx is done first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopping = true
	queued, active, started := len(p.queue), p.active, p.started
	p.cond.Broadcast()
	p.mu.Unlock()

	if !started {
		return nil
	}
	if queued+active > 0 {
		p.logger.Closing("Waiting for extractions to finish", "running", active, "queued", queued)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("❀ Worker pool stopped, all workers exited cleanly")
		return nil
	case <-ctx.Done():
		p.logger.Closing("Worker pool stop timed out, workers still running")
		return errors.Wrap(ctx.Err(), "stop worker pool")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = Task{}
		p.queue = p.queue[1:]
		p.active++
		ctx := p.ctx
		p.mu.Unlock()

		err := p.run(ctx, id, t)

		p.mu.Lock()
		p.active--
		p.completed++
		if err != nil {
			p.failed++
		}
		p.mu.Unlock()
	}
}

// run executes t, turning a panic into an error so one bad task never
// takes a worker down.
func (p *Pool) run(ctx context.Context, id int, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.panicked++
			p.mu.Unlock()
			err = errors.Newf("task %s panicked: %v", t.Name, r)
			p.logger.Errorw("Task panicked",
				"worker", id,
				"task", t.Name,
				logger.FieldJobID, t.JobID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	return t.Run(ctx)
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	return p.workers
}
