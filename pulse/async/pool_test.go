package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/exportd/errors"
)

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	p := NewPool(n, zaptest.NewLogger(t).Sugar())
	p.Start(context.Background())
	return p
}

func TestPool_RunsAtMostNConcurrently(t *testing.T) {
	p := newTestPool(t, 2)

	var running, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Task{Name: "t", Run: func(ctx context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}}))
	}

	assert.Eventually(t, func() bool { return p.Stats().WorkersActive == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, p.Stats().TasksQueued)

	close(release)
	wg.Wait()
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int64(6), p.Stats().Completed)
}

func TestPool_SubmitDoesNotBlock(t *testing.T) {
	p := newTestPool(t, 1)
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
			<-block
			return nil
		}}))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPool_FIFO(t *testing.T) {
	p := NewPool(1, zaptest.NewLogger(t).Sugar())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, p.Submit(Task{Name: "ordered", Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}}))
	}
	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_StopDrainsQueuedTasks(t *testing.T) {
	p := newTestPool(t, 1)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{Name: "drain", Run: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		}}))
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(5), done.Load())

	err := p.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrPoolStopped))
}

func TestPool_StopTimeout(t *testing.T) {
	p := newTestPool(t, 1)
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, p.Submit(Task{Name: "stuck", Run: func(ctx context.Context) error {
		<-block
		return nil
	}}))
	assert.Eventually(t, func() bool { return p.Stats().WorkersActive == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	p := newTestPool(t, 1)

	var ran atomic.Bool
	require.NoError(t, p.Submit(Task{Name: "boom", JobID: 7, Run: func(ctx context.Context) error {
		panic("nil map")
	}}))
	require.NoError(t, p.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}))

	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, ran.Load())
	s := p.Stats()
	assert.Equal(t, int64(1), s.Panicked)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(2), s.Completed)
}

func TestPool_TaskContextSurvivesShutdown(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "run-1"))

	p := NewPool(1, zaptest.NewLogger(t).Sugar())
	p.Start(parent)

	started := make(chan struct{})
	var sawErr error
	var sawValue any
	require.NoError(t, p.Submit(Task{Name: "long", Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sawErr = ctx.Err()
		sawValue = ctx.Value(key{})
		return nil
	}}))

	<-started
	cancel()
	require.NoError(t, p.Stop(context.Background()))
	assert.NoError(t, sawErr)
	assert.Equal(t, "run-1", sawValue)
}

func TestPool_RejectsEmptyTask(t *testing.T) {
	p := NewPool(1, nil)
	assert.Error(t, p.Submit(Task{Name: "nothing"}))
	assert.Equal(t, DefaultWorkers, NewPool(0, nil).Workers())
}

func TestPool_StatsMemory(t *testing.T) {
	orig := memoryStats
	t.Cleanup(func() { memoryStats = orig })
	memoryStats = func() (uint64, uint64, error) { return 8 * gib, 2 * gib, nil }

	p := NewPool(3, nil)
	s := p.Stats()
	assert.InDelta(t, 8.0, s.MemoryTotalGB, 0.001)
	assert.InDelta(t, 6.0, s.MemoryUsedGB, 0.001)
	assert.InDelta(t, 75.0, s.MemoryPercent, 0.001)
	assert.Equal(t, 3, s.WorkersTotal)
}

func TestPool_CheckMemoryPressure(t *testing.T) {
	orig := memoryStats
	t.Cleanup(func() { memoryStats = orig })

	memoryStats = func() (uint64, uint64, error) { return 8 * gib, gib / 2, nil }
	assert.Contains(t, NewPool(4, nil).checkMemoryPressure(), "4 workers")

	memoryStats = func() (uint64, uint64, error) { return 8 * gib, 4 * gib, nil }
	assert.Empty(t, NewPool(4, nil).checkMemoryPressure())

	memoryStats = func() (uint64, uint64, error) { return 0, 0, errors.New("unsupported") }
	assert.Empty(t, NewPool(4, nil).checkMemoryPressure())
}
