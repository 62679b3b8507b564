package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/jobmanager"
	"github.com/ChuLiYu/stress-lab/internal/worker"
	"github.com/ChuLiYu/stress-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type countingRecorder struct {
	mu        sync.Mutex
	enqueued  map[string]int
	succeeded map[string]int
	failed    map[string]int
	cancelled map[string]int
	periodic  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		enqueued:  map[string]int{},
		succeeded: map[string]int{},
		failed:    map[string]int{},
		cancelled: map[string]int{},
	}
}

func (c *countingRecorder) RecordEnqueued(w string) { c.inc(c.enqueued, w) }
func (c *countingRecorder) RecordSucceeded(w string, _ time.Duration) {
	c.inc(c.succeeded, w)
}
func (c *countingRecorder) RecordFailed(w string, _ time.Duration) { c.inc(c.failed, w) }
func (c *countingRecorder) RecordCancelled(w string)               { c.inc(c.cancelled, w) }
func (c *countingRecorder) SetPeriodicRegistered(n int) {
	c.mu.Lock()
	c.periodic = n
	c.mu.Unlock()
}

func (c *countingRecorder) inc(m map[string]int, w string) {
	c.mu.Lock()
	m[w]++
	c.mu.Unlock()
}

func (c *countingRecorder) get(m map[string]int, w string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[w]
}

// blocking 是一個會等待取消的 worker
func blocking(started chan<- types.WorkID) worker.Factory {
	return func() worker.Worker {
		return worker.WorkerFunc(func(ctx context.Context, input types.Data) types.Result {
			if started != nil {
				started <- types.WorkID(input.GetString("id", ""))
			}
			<-ctx.Done()
			return types.Failure(ctx.Err())
		})
	}
}

func createTestScheduler(t *testing.T, extra map[string]worker.Factory) (*Scheduler, *countingRecorder, *atomic.Int64) {
	t.Helper()

	runs := &atomic.Int64{}
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register("ok", func() worker.Worker {
		return worker.WorkerFunc(func(ctx context.Context, input types.Data) types.Result {
			runs.Add(1)
			return types.Success(types.Data{"echo": input.GetString("msg", "")})
		})
	}))
	require.NoError(t, reg.Register("fail", func() worker.Worker {
		return worker.WorkerFunc(func(ctx context.Context, input types.Data) types.Result {
			return types.Failure(errors.New("simulated failure"))
		})
	}))
	for name, f := range extra {
		require.NoError(t, reg.Register(name, f))
	}

	rec := newCountingRecorder()
	s, err := New(reg, Config{WorkerCount: 2, BufferSize: 8, Recorder: rec})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	return s, rec, runs
}

// waitForState waits for a work item to reach the given state
func waitForState(t *testing.T, s *Scheduler, id types.WorkID, want types.WorkState) types.WorkInfo {
	t.Helper()

	var info types.WorkInfo
	require.Eventually(t, func() bool {
		var err error
		info, err = s.WorkInfo(id)
		return err == nil && info.State == want
	}, 2*time.Second, 5*time.Millisecond, "work %s never reached %s (last: %s)", id, want, info.State)
	return info
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(worker.NewRegistry(), Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultWorkerCount, s.config.WorkerCount)
	assert.Equal(t, defaultBufferSize, s.config.BufferSize)
	assert.NotNil(t, s.config.Recorder)
}

func TestCallsBeforeStart(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register("ok", func() worker.Worker { return worker.WorkerFunc(nil) }))
	s, err := New(reg, Config{})
	require.NoError(t, err)

	_, err = s.Enqueue(context.Background(), types.NewOneTimeWork("ok"))
	assert.ErrorIs(t, err, ErrSchedulerNotStarted)
	assert.False(t, s.IsRunning())
}

func TestStartStop(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(), "starting twice fails")

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.NotPanics(t, s.Stop)

	_, err := s.Enqueue(context.Background(), types.NewOneTimeWork("ok"))
	assert.ErrorIs(t, err, ErrSchedulerStopped)
	assert.ErrorIs(t, s.Start(), ErrSchedulerStopped)
}

// ============================================================================
// One-time work
// ============================================================================

func TestEnqueue_Success(t *testing.T) {
	s, rec, runs := createTestScheduler(t, nil)

	req := types.NewOneTimeWork("ok", types.WithInput(types.Data{"msg": "hola"}))
	id, err := s.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, id)

	info := waitForState(t, s, id, types.StateSucceeded)
	assert.Equal(t, 1, info.RunCount)
	assert.Equal(t, types.ResultSuccess, info.LastResult)
	assert.Equal(t, "hola", info.Output.GetString("echo", ""))
	assert.Equal(t, int64(1), runs.Load())

	assert.Equal(t, 1, rec.get(rec.enqueued, "ok"))
	require.Eventually(t, func() bool { return rec.get(rec.succeeded, "ok") == 1 }, time.Second, 5*time.Millisecond)
}

func TestEnqueue_Failure(t *testing.T) {
	s, rec, _ := createTestScheduler(t, nil)

	id, err := s.Enqueue(context.Background(), types.NewOneTimeWork("fail"))
	require.NoError(t, err)

	info := waitForState(t, s, id, types.StateFailed)
	assert.Equal(t, types.ResultFailure, info.LastResult)
	require.Eventually(t, func() bool { return rec.get(rec.failed, "fail") == 1 }, time.Second, 5*time.Millisecond)
}

func TestEnqueue_NormalizesInput(t *testing.T) {
	got := make(chan types.Data, 1)
	s, _, _ := createTestScheduler(t, map[string]worker.Factory{
		"capture": func() worker.Worker {
			return worker.WorkerFunc(func(ctx context.Context, input types.Data) types.Result {
				got <- input
				return types.Success(nil)
			})
		},
	})

	_, err := s.Enqueue(context.Background(), types.NewOneTimeWork("capture",
		types.WithInput(types.Data{"minutes": 10, "title": "Pausa"})))
	require.NoError(t, err)

	input := <-got
	assert.Equal(t, float64(10), input["minutes"], "numbers are normalized to float64")
	assert.Equal(t, int64(10), input.GetInt64("minutes", 0))
	assert.Equal(t, "Pausa", input.GetString("title", ""))
}

func TestEnqueue_AssignsMissingID(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)

	id, err := s.Enqueue(context.Background(), types.WorkRequest{Kind: types.KindOneTime, WorkerName: "ok"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	waitForState(t, s, id, types.StateSucceeded)
}

func TestEnqueue_Validation(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, types.NewPeriodicWork("ok", time.Minute))
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = s.Enqueue(ctx, types.NewOneTimeWork("missing"))
	assert.ErrorIs(t, err, worker.ErrUnknownWorker)

	_, err = s.Enqueue(ctx, types.NewOneTimeWork("ok", types.WithInput(types.Data{"nested": map[string]interface{}{"a": 1}})))
	assert.ErrorIs(t, err, types.ErrInvalidData)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Enqueue(cancelled, types.NewOneTimeWork("ok"))
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Cancellation by tag / id
// ============================================================================

func TestCancelAllWorkByTag(t *testing.T) {
	started := make(chan types.WorkID, 4)
	s, rec, _ := createTestScheduler(t, map[string]worker.Factory{"block": blocking(started)})
	ctx := context.Background()

	a, err := s.Enqueue(ctx, types.NewOneTimeWork("block", types.WithTags("timer_work"), types.WithInput(types.Data{"id": "a"})))
	require.NoError(t, err)
	b, err := s.Enqueue(ctx, types.NewOneTimeWork("block", types.WithTags("timer_work"), types.WithInput(types.Data{"id": "b"})))
	require.NoError(t, err)
	other, err := s.Enqueue(ctx, types.NewOneTimeWork("ok", types.WithTags("other")))
	require.NoError(t, err)

	// 等待兩個阻塞工作都開始執行
	<-started
	<-started
	waitForState(t, s, other, types.StateSucceeded)

	n, err := s.CancelAllWorkByTag(ctx, "timer_work")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waitForState(t, s, a, types.StateCancelled)
	waitForState(t, s, b, types.StateCancelled)
	assert.Equal(t, 2, rec.get(rec.cancelled, "block"))

	// 取消後的結果不會改變狀態
	time.Sleep(20 * time.Millisecond)
	info, _ := s.WorkInfo(a)
	assert.Equal(t, types.StateCancelled, info.State)
	assert.Equal(t, 0, rec.get(rec.failed, "block"))

	// 沒有更多可取消的工作
	n, err = s.CancelAllWorkByTag(ctx, "timer_work")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Len(t, s.WorkInfosByTag("timer_work"), 2)
}

func TestCancelWorkByID(t *testing.T) {
	started := make(chan types.WorkID, 1)
	s, _, _ := createTestScheduler(t, map[string]worker.Factory{"block": blocking(started)})
	ctx := context.Background()

	id, err := s.Enqueue(ctx, types.NewOneTimeWork("block"))
	require.NoError(t, err)
	<-started

	require.NoError(t, s.CancelWorkByID(ctx, id))
	waitForState(t, s, id, types.StateCancelled)

	assert.ErrorIs(t, s.CancelWorkByID(ctx, "missing"), jobmanager.ErrWorkNotFound)
}

// ============================================================================
// Unique periodic work
// ============================================================================

func TestUniquePeriodic_RunsImmediatelyAndRepeats(t *testing.T) {
	s, rec, runs := createTestScheduler(t, nil)

	id, err := s.EnqueueUniquePeriodicWork(context.Background(), "monitor", types.PolicyUpdate,
		types.NewPeriodicWork("ok", 20*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	info, err := s.WorkInfo(id)
	require.NoError(t, err)
	assert.Equal(t, types.KindPeriodic, info.Kind)
	assert.Equal(t, "monitor", info.UniqueName)
	assert.False(t, info.State.IsFinished(), "periodic work never finishes on its own")

	rec.mu.Lock()
	assert.Equal(t, 1, rec.periodic)
	rec.mu.Unlock()
}

func TestUniquePeriodic_UpdateKeepsSingleRegistration(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	ctx := context.Background()

	first, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate,
			types.NewPeriodicWork("ok", time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, first, id, "update keeps the existing registration")
	}

	infos := s.WorkInfosForUniqueWork("monitor")
	require.Len(t, infos, 1)
	assert.Equal(t, first, infos[0].ID)

	req, ok := s.jobs.Request(first)
	require.True(t, ok)
	assert.Equal(t, 5*time.Hour, req.Interval)

	s.mu.Lock()
	assert.Len(t, s.periodic, 1)
	s.mu.Unlock()
}

func TestUniquePeriodic_Keep(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	ctx := context.Background()

	first, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyKeep, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)
	second, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyKeep, types.NewPeriodicWork("ok", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req, _ := s.jobs.Request(first)
	assert.Equal(t, time.Hour, req.Interval, "keep ignores the new definition")
}

func TestUniquePeriodic_Replace(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	ctx := context.Background()

	first, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyReplace, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)
	second, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyReplace, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	waitForState(t, s, first, types.StateCancelled)
	assert.Len(t, s.WorkInfosForUniqueWork("monitor"), 2)

	s.mu.Lock()
	assert.Len(t, s.periodic, 1)
	s.mu.Unlock()
}

func TestUniquePeriodic_Validation(t *testing.T) {
	s, _, _ := createTestScheduler(t, nil)
	ctx := context.Background()

	_, err := s.EnqueueUniquePeriodicWork(ctx, "", types.PolicyUpdate, types.NewPeriodicWork("ok", time.Minute))
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = s.EnqueueUniquePeriodicWork(ctx, "m", types.PolicyUpdate, types.NewOneTimeWork("ok"))
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = s.EnqueueUniquePeriodicWork(ctx, "m", types.PolicyUpdate, types.NewPeriodicWork("ok", 0))
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = s.EnqueueUniquePeriodicWork(ctx, "m", types.PolicyUpdate, types.NewPeriodicWork("missing", time.Minute))
	assert.ErrorIs(t, err, worker.ErrUnknownWorker)

	_, err = s.EnqueueUniquePeriodicWork(ctx, "m", types.PolicyKeep, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)
	_, err = s.EnqueueUniquePeriodicWork(ctx, "m", "bogus", types.NewPeriodicWork("ok", time.Hour))
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestCancelUniqueWork(t *testing.T) {
	s, rec, runs := createTestScheduler(t, nil)
	ctx := context.Background()

	id, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate, types.NewPeriodicWork("ok", 10*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.CancelUniqueWork(ctx, "monitor"))
	waitForState(t, s, id, types.StateCancelled)

	// 取消後不再執行
	time.Sleep(30 * time.Millisecond)
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	// 名稱不存在時為 no-op
	assert.NoError(t, s.CancelUniqueWork(ctx, "monitor"))
	assert.NoError(t, s.CancelUniqueWork(ctx, "never-registered"))

	rec.mu.Lock()
	assert.Equal(t, 0, rec.periodic)
	rec.mu.Unlock()

	// 可以重新登記
	again, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
}

func TestPeriodicCancelStopsRunningTask(t *testing.T) {
	started := make(chan types.WorkID, 1)
	s, _, _ := createTestScheduler(t, map[string]worker.Factory{"block": blocking(started)})
	ctx := context.Background()

	id, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate, types.NewPeriodicWork("block", time.Hour))
	require.NoError(t, err)
	<-started

	require.NoError(t, s.CancelUniqueWork(ctx, "monitor"))
	waitForState(t, s, id, types.StateCancelled)

	s.mu.Lock()
	assert.Empty(t, s.running)
	s.mu.Unlock()
}

// ============================================================================
// Shutdown
// ============================================================================

func TestStopCancelsActiveWork(t *testing.T) {
	started := make(chan types.WorkID, 1)
	s, _, _ := createTestScheduler(t, map[string]worker.Factory{"block": blocking(started)})
	ctx := context.Background()

	oneTime, err := s.Enqueue(ctx, types.NewOneTimeWork("block"))
	require.NoError(t, err)
	<-started
	periodic, err := s.EnqueueUniquePeriodicWork(ctx, "monitor", types.PolicyUpdate, types.NewPeriodicWork("ok", time.Hour))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	for _, id := range []types.WorkID{oneTime, periodic} {
		info, err := s.WorkInfo(id)
		require.NoError(t, err)
		assert.Equal(t, types.StateCancelled, info.State)
	}
	assert.Equal(t, 0, s.Stats()["running"])
}
