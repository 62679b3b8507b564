// ============================================================================
// Stress-Lab Scheduler - 延遲工作排程器
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 接收單次與唯一週期工作，交給 Worker Pool 執行，並支援依名稱或標籤取消
//
// 架構設計:
//   - JobManager: 工作狀態、唯一名稱與標籤索引
//   - Registry: worker 名稱 → Worker 工廠
//   - WorkerPool: 實際執行工作
//
// 核心循環:
//   1. Result Loop - 接收 worker 執行結果，更新工作狀態
//   2. Periodic Loop - 每個唯一週期工作一個 goroutine，依間隔觸發執行
//   3. Dispatch - 單次工作在背景 goroutine 中提交，呼叫者不會被阻塞
//
// 取消模型:
//   - 每次執行都有自己的 context，由 rootCtx 派生
//   - 依名稱 / 標籤 / ID 取消時：標記 Cancelled、停止週期循環、取消執行中的 context
//   - 已取消工作之後回報的結果會被忽略
//
// 並發安全:
//   - s.mu 串行化「標記執行中 + 登記取消函式」與「取消」，
//     取消不會漏掉剛開始執行的工作
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/jobmanager"
	"github.com/ChuLiYu/stress-lab/internal/worker"
	"github.com/ChuLiYu/stress-lab/pkg/types"
	"github.com/google/uuid"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrSchedulerStopped    = errors.New("scheduler is stopped")
	ErrSchedulerNotStarted = errors.New("scheduler not started")
	ErrInvalidInterval     = errors.New("periodic work needs a positive interval")
	ErrWrongKind           = errors.New("work request kind does not match the call")
	ErrEmptyName           = errors.New("unique work name is required")
	ErrUnknownPolicy       = errors.New("unknown existing work policy")
)

// ============================================================================
// 介面定義
// ============================================================================

// Client 是 UI 控制器依賴的排程器操作，所有呼叫都會立即返回
type Client interface {
	EnqueueUniquePeriodicWork(ctx context.Context, name string, policy types.ExistingWorkPolicy, req types.WorkRequest) (types.WorkID, error)
	CancelUniqueWork(ctx context.Context, name string) error
	Enqueue(ctx context.Context, req types.WorkRequest) (types.WorkID, error)
	CancelAllWorkByTag(ctx context.Context, tag string) (int, error)
	WorkInfo(id types.WorkID) (types.WorkInfo, error)
}

var _ Client = (*Scheduler)(nil)

// Recorder 接收排程器層級的指標
type Recorder interface {
	RecordEnqueued(worker string)
	RecordSucceeded(worker string, d time.Duration)
	RecordFailed(worker string, d time.Duration)
	RecordCancelled(worker string)
	SetPeriodicRegistered(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEnqueued(string)                 {}
func (nopRecorder) RecordSucceeded(string, time.Duration) {}
func (nopRecorder) RecordFailed(string, time.Duration)    {}
func (nopRecorder) RecordCancelled(string)                {}
func (nopRecorder) SetPeriodicRegistered(int)             {}

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 排程器配置
type Config struct {
	WorkerCount int      // 並發執行的 worker 數量
	BufferSize  int      // 任務與結果通道緩衝大小
	Recorder    Recorder // 指標接收者（可為 nil）
}

const (
	defaultWorkerCount = 4
	defaultBufferSize  = 16
)

// Scheduler 延遲工作排程器
type Scheduler struct {
	mu       sync.Mutex
	jobs     *jobmanager.JobManager
	registry *worker.Registry
	pool     *worker.Pool
	config   Config

	rootCtx    context.Context
	rootCancel context.CancelFunc

	running  map[types.WorkID]context.CancelFunc // 執行中工作的取消函式
	periodic map[types.WorkID]context.CancelFunc // 週期循環的停止函式

	started  bool
	stopped  bool
	loopWg   sync.WaitGroup // 週期循環與背景提交
	resultWg sync.WaitGroup // result loop
}

// ============================================================================
// 生命週期
// ============================================================================

// New 建立排程器
func New(registry *worker.Registry, config Config) (*Scheduler, error) {
	if registry == nil {
		return nil, errors.New("worker registry is required")
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaultWorkerCount
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:       jobmanager.NewJobManager(),
		registry:   registry,
		pool:       worker.NewPool(config.BufferSize),
		config:     config,
		rootCtx:    ctx,
		rootCancel: cancel,
		running:    make(map[types.WorkID]context.CancelFunc),
		periodic:   make(map[types.WorkID]context.CancelFunc),
	}, nil
}

// Start 啟動 Worker Pool 與 result loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return errors.New("scheduler already started")
	}

	if err := s.pool.Start(s.config.WorkerCount); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	s.resultWg.Add(1)
	go s.resultLoop()

	s.started = true
	log.Info("Scheduler started", "workers", s.config.WorkerCount, "registered", s.registry.Names())
	return nil
}

// Stop 取消所有未終止的工作並等待所有循環退出
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	cancelled := 0
	for _, id := range s.jobs.Active() {
		if s.cancelLocked(id) {
			cancelled++
		}
	}
	s.rootCancel()
	s.config.Recorder.SetPeriodicRegistered(0)
	s.mu.Unlock()

	s.loopWg.Wait()
	s.pool.Stop()
	s.resultWg.Wait()

	log.Info("Scheduler stopped", "cancelled_work", cancelled)
}

// IsRunning 回報排程器是否已啟動且尚未停止
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// checkRunningLocked 呼叫者必須持有 s.mu
func (s *Scheduler) checkRunningLocked() error {
	if s.stopped {
		return ErrSchedulerStopped
	}
	if !s.started {
		return ErrSchedulerNotStarted
	}
	return nil
}

// ============================================================================
// Client 實作
// ============================================================================

// Enqueue 排入單次工作，立即返回；工作在背景提交給 Worker Pool。
// 輸入資料會先正規化，非基本型別的值回傳 types.ErrInvalidData。
func (s *Scheduler) Enqueue(ctx context.Context, req types.WorkRequest) (types.WorkID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Kind != types.KindOneTime {
		return "", fmt.Errorf("%w: enqueue expects %s, got %s", ErrWrongKind, types.KindOneTime, req.Kind)
	}
	if !s.registry.Has(req.WorkerName) {
		return "", fmt.Errorf("%w: %s", worker.ErrUnknownWorker, req.WorkerName)
	}
	input, err := types.NewData(req.Input)
	if err != nil {
		return "", err
	}
	req.Input = input
	req.UniqueName = ""
	if req.ID == "" {
		req.ID = types.WorkID(uuid.NewString())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return "", err
	}
	if err := s.jobs.Add(req); err != nil {
		return "", fmt.Errorf("failed to add work: %w", err)
	}
	s.config.Recorder.RecordEnqueued(req.WorkerName)

	s.loopWg.Add(1)
	go func() {
		defer s.loopWg.Done()
		logDispatchError(req.ID, s.dispatch(req.ID))
	}()

	log.Debug("Work enqueued", "work_id", req.ID, "worker", req.WorkerName, "tags", req.Tags)
	return req.ID, nil
}

// EnqueueUniquePeriodicWork 以唯一名稱登記週期工作
//
// 同名工作已存在時依 policy 處理：
//   - update: 保留既有登記與 ID，更新定義；間隔改變時重新開始計時
//   - keep: 忽略新的提交，回傳既有 ID
//   - replace: 取消既有登記（包括執行中的工作），登記新的工作
//
// 新登記的工作會立即執行第一次，之後每個間隔執行一次。
func (s *Scheduler) EnqueueUniquePeriodicWork(ctx context.Context, name string, policy types.ExistingWorkPolicy, req types.WorkRequest) (types.WorkID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrEmptyName
	}
	if req.Kind != types.KindPeriodic {
		return "", fmt.Errorf("%w: unique periodic work expects %s, got %s", ErrWrongKind, types.KindPeriodic, req.Kind)
	}
	if req.Interval <= 0 {
		return "", ErrInvalidInterval
	}
	if !s.registry.Has(req.WorkerName) {
		return "", fmt.Errorf("%w: %s", worker.ErrUnknownWorker, req.WorkerName)
	}
	input, err := types.NewData(req.Input)
	if err != nil {
		return "", err
	}
	req.Input = input

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return "", err
	}

	if existing, ok := s.jobs.ByUniqueName(name); ok {
		switch policy {
		case types.PolicyKeep:
			log.Debug("Unique work kept", "name", name, "work_id", existing.ID)
			return existing.ID, nil

		case types.PolicyUpdate:
			old, _ := s.jobs.Request(existing.ID)
			if err := s.jobs.Update(existing.ID, req); err != nil {
				return "", fmt.Errorf("failed to update work: %w", err)
			}
			if old.Interval != req.Interval {
				if stop, ok := s.periodic[existing.ID]; ok {
					stop()
				}
				s.startPeriodicLocked(existing.ID, req.Interval, false)
			}
			log.Info("Unique work updated", "name", name, "work_id", existing.ID, "interval", req.Interval)
			return existing.ID, nil

		case types.PolicyReplace:
			s.cancelLocked(existing.ID)

		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
		}
	}

	req.UniqueName = name
	if req.ID == "" {
		req.ID = types.WorkID(uuid.NewString())
	}
	if err := s.jobs.Add(req); err != nil {
		return "", fmt.Errorf("failed to add work: %w", err)
	}
	s.config.Recorder.RecordEnqueued(req.WorkerName)
	s.startPeriodicLocked(req.ID, req.Interval, true)

	log.Info("Unique periodic work registered", "name", name, "work_id", req.ID, "interval", req.Interval)
	return req.ID, nil
}

// CancelUniqueWork 取消唯一名稱指向的工作；名稱不存在時不做任何事
func (s *Scheduler) CancelUniqueWork(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return err
	}

	info, ok := s.jobs.ByUniqueName(name)
	if !ok {
		log.Debug("No unique work to cancel", "name", name)
		return nil
	}
	s.cancelLocked(info.ID)
	return nil
}

// CancelAllWorkByTag 取消所有帶有 tag 且尚未終止的工作，回傳取消數量
func (s *Scheduler) CancelAllWorkByTag(ctx context.Context, tag string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range s.jobs.ActiveByTag(tag) {
		if s.cancelLocked(id) {
			cancelled++
		}
	}
	return cancelled, nil
}

// CancelWorkByID 取消指定工作
func (s *Scheduler) CancelWorkByID(ctx context.Context, id types.WorkID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return err
	}
	if _, ok := s.jobs.Get(id); !ok {
		return jobmanager.ErrWorkNotFound
	}
	s.cancelLocked(id)
	return nil
}

// cancelLocked 呼叫者必須持有 s.mu。回傳工作是否由此次呼叫取消。
func (s *Scheduler) cancelLocked(id types.WorkID) bool {
	if err := s.jobs.MarkCancelled(id); err != nil {
		return false
	}

	if stop, ok := s.periodic[id]; ok {
		stop()
		delete(s.periodic, id)
		s.config.Recorder.SetPeriodicRegistered(len(s.periodic))
	}
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}

	info, _ := s.jobs.Get(id)
	s.config.Recorder.RecordCancelled(info.WorkerName)
	log.Info("Work cancelled", "work_id", id, "worker", info.WorkerName)
	return true
}

// ============================================================================
// 查詢方法
// ============================================================================

// WorkInfo 取得工作資訊
func (s *Scheduler) WorkInfo(id types.WorkID) (types.WorkInfo, error) {
	info, ok := s.jobs.Get(id)
	if !ok {
		return types.WorkInfo{}, jobmanager.ErrWorkNotFound
	}
	return info, nil
}

// WorkInfosByTag 取得帶有 tag 的所有工作（包含已終止者）
func (s *Scheduler) WorkInfosByTag(tag string) []types.WorkInfo {
	var infos []types.WorkInfo
	for _, info := range s.jobs.List() {
		for _, t := range info.Tags {
			if t == tag {
				infos = append(infos, info)
				break
			}
		}
	}
	return infos
}

// WorkInfosForUniqueWork 取得曾以 name 登記的所有工作
func (s *Scheduler) WorkInfosForUniqueWork(name string) []types.WorkInfo {
	var infos []types.WorkInfo
	for _, info := range s.jobs.List() {
		if info.UniqueName == name {
			infos = append(infos, info)
		}
	}
	return infos
}

// Stats 取得各狀態工作數量
func (s *Scheduler) Stats() map[string]int {
	return s.jobs.Stats()
}

// ============================================================================
// 核心循環
// ============================================================================

// dispatch 將工作標記為執行中並提交給 Worker Pool
func (s *Scheduler) dispatch(id types.WorkID) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}

	req, err := s.jobs.MarkRunning(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	w, err := s.registry.New(req.WorkerName)
	if err != nil {
		s.mu.Unlock()
		s.finish(worker.Result{WorkID: id, WorkerName: req.WorkerName, Result: types.Failure(err)})
		return err
	}

	taskCtx, cancel := context.WithCancel(s.rootCtx)
	s.running[id] = cancel
	s.mu.Unlock()

	task := worker.Task{
		ID:         id,
		WorkerName: req.WorkerName,
		Worker:     w,
		Input:      req.Input,
		Ctx:        taskCtx,
	}
	if err := s.pool.Submit(task); err != nil {
		// Pool 可能已關閉，這是正常的（在 Stop 過程中）
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		cancel()
		if !errors.Is(err, worker.ErrPoolClosed) {
			s.finish(worker.Result{WorkID: id, WorkerName: req.WorkerName, Result: types.Failure(err)})
		}
		return err
	}

	log.Debug("Work dispatched", "work_id", id, "worker", req.WorkerName)
	return nil
}

// startPeriodicLocked 呼叫者必須持有 s.mu
func (s *Scheduler) startPeriodicLocked(id types.WorkID, interval time.Duration, runNow bool) {
	ctx, stop := context.WithCancel(s.rootCtx)
	s.periodic[id] = stop
	s.config.Recorder.SetPeriodicRegistered(len(s.periodic))

	s.loopWg.Add(1)
	go s.periodicLoop(ctx, id, interval, runNow)
}

// periodicLoop 依間隔觸發週期工作，直到 ctx 被取消
func (s *Scheduler) periodicLoop(ctx context.Context, id types.WorkID, interval time.Duration, runNow bool) {
	defer s.loopWg.Done()

	if runNow {
		s.runPeriodic(ctx, id)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Periodic loop stopped", "work_id", id)
			return
		case <-ticker.C:
			s.runPeriodic(ctx, id)
		}
	}
}

func (s *Scheduler) runPeriodic(ctx context.Context, id types.WorkID) {
	if ctx.Err() != nil {
		return
	}
	logDispatchError(id, s.dispatch(id))
}

func logDispatchError(id types.WorkID, err error) {
	switch {
	case err == nil:
	case errors.Is(err, jobmanager.ErrNotEnqueued):
		// 已被取消，或週期工作的上一次執行尚未結束
		log.Debug("Work not enqueued, skipping dispatch", "work_id", id)
	case errors.Is(err, worker.ErrPoolClosed), errors.Is(err, ErrSchedulerStopped):
	default:
		log.Warn("Failed to dispatch work", "work_id", id, "error", err)
	}
}

// resultLoop 處理 Worker 執行結果，直到 Pool 關閉
func (s *Scheduler) resultLoop() {
	defer s.resultWg.Done()
	for {
		result, err := s.pool.ReceiveResult()
		if err != nil {
			if errors.Is(err, worker.ErrPoolClosed) {
				log.Debug("Result loop stopped")
				return
			}
			log.Error("Failed to receive result", "error", err)
			continue
		}

		s.mu.Lock()
		if cancel, ok := s.running[result.WorkID]; ok {
			cancel()
			delete(s.running, result.WorkID)
		}
		s.mu.Unlock()

		s.finish(result)
	}
}

// finish 記錄一次執行的結果
func (s *Scheduler) finish(result worker.Result) {
	info, ok := s.jobs.Get(result.WorkID)
	if !ok {
		log.Warn("Result for unknown work", "work_id", result.WorkID)
		return
	}
	if info.State == types.StateCancelled {
		log.Debug("Result for cancelled work ignored", "work_id", result.WorkID)
		return
	}

	if result.Cancelled {
		s.mu.Lock()
		s.cancelLocked(result.WorkID)
		s.mu.Unlock()
		return
	}

	if err := s.jobs.MarkFinished(result.WorkID, result.Result); err != nil {
		if errors.Is(err, jobmanager.ErrNotRunning) {
			// 在讀取狀態之後被取消
			log.Debug("Result arrived after cancellation", "work_id", result.WorkID)
			return
		}
		log.Error("Failed to record result", "work_id", result.WorkID, "error", err)
		return
	}

	if result.Result.Succeeded() {
		s.config.Recorder.RecordSucceeded(result.WorkerName, result.Duration)
		log.Debug("Work succeeded", "work_id", result.WorkID, "worker", result.WorkerName, "duration", result.Duration)
		return
	}

	s.config.Recorder.RecordFailed(result.WorkerName, result.Duration)
	log.Warn("Work failed", "work_id", result.WorkID, "worker", result.WorkerName, "error", result.Result.Err)
}
