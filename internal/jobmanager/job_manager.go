// ============================================================================
// Stress-Lab 工作登記表 - 工作狀態機實現
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 管理排程器中每個工作項目的狀態、唯一名稱與標籤
//
// 工作狀態轉換 (State Machine):
//   Enqueued (已排入)
//      ↓ MarkRunning()
//   Running (執行中)
//      ↓ MarkFinished()
//   單次工作 → Succeeded / Failed
//   週期工作 → Enqueued（等待下一個週期）
//
//   任何非終止狀態 ↓ MarkCancelled()
//   Cancelled (已取消)
//
// 數據結構設計:
//   works map[WorkID]*entry - 主存儲
//   unique map[string]WorkID - 唯一名稱索引，只指向尚未終止的工作
//
// 並發安全:
//   - 使用 sync.RWMutex 保護所有數據結構
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/stress-lab/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 工作 ID 重複
	ErrDuplicateWork = errors.New("work already exists")
	// 工作不存在
	ErrWorkNotFound = errors.New("work not found")
	// 工作不在已排入狀態
	ErrNotEnqueued = errors.New("work not enqueued")
	// 工作不在執行中狀態
	ErrNotRunning = errors.New("work not running")
	// 工作已終止
	ErrWorkFinished = errors.New("work already finished")
	// 唯一名稱已被其他工作佔用
	ErrUniqueNameTaken = errors.New("unique work name already registered")
)

// entry 是登記表內部的工作記錄
type entry struct {
	req  types.WorkRequest
	info types.WorkInfo
}

// JobManager 工作登記表
type JobManager struct {
	mu     sync.RWMutex
	works  map[types.WorkID]*entry
	unique map[string]types.WorkID
	order  []types.WorkID // 加入順序，供列表輸出
}

// NewJobManager 建立新的工作登記表
func NewJobManager() *JobManager {
	return &JobManager{
		works:  make(map[types.WorkID]*entry),
		unique: make(map[string]types.WorkID),
		order:  make([]types.WorkID, 0),
	}
}

// Add 加入新工作，設定為已排入狀態
//
// 錯誤處理：
//   - ErrDuplicateWork: 工作 ID 已存在
//   - ErrUniqueNameTaken: 唯一名稱已指向另一個未終止的工作
func (jm *JobManager) Add(req types.WorkRequest) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.works[req.ID]; exists {
		return ErrDuplicateWork
	}
	if req.UniqueName != "" {
		if _, taken := jm.unique[req.UniqueName]; taken {
			return ErrUniqueNameTaken
		}
	}

	now := time.Now().UnixMilli()
	req.Tags = append([]string(nil), req.Tags...)
	jm.works[req.ID] = &entry{
		req: req,
		info: types.WorkInfo{
			ID:         req.ID,
			Kind:       req.Kind,
			WorkerName: req.WorkerName,
			State:      types.StateEnqueued,
			Tags:       req.Tags,
			UniqueName: req.UniqueName,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	jm.order = append(jm.order, req.ID)

	if req.UniqueName != "" {
		jm.unique[req.UniqueName] = req.ID
	}
	return nil
}

// Update 以新請求的定義（worker、間隔、輸入、標籤）更新既有工作，保留 ID 與狀態
func (jm *JobManager) Update(id types.WorkID, req types.WorkRequest) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.works[id]
	if !exists {
		return ErrWorkNotFound
	}
	if e.info.State.IsFinished() {
		return ErrWorkFinished
	}

	e.req.WorkerName = req.WorkerName
	e.req.Interval = req.Interval
	e.req.Input = req.Input.Clone()
	e.req.Tags = append([]string(nil), req.Tags...)

	e.info.WorkerName = req.WorkerName
	e.info.Tags = e.req.Tags
	e.info.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// MarkRunning 將工作標記為執行中，回傳執行所需的請求拷貝
func (jm *JobManager) MarkRunning(id types.WorkID) (types.WorkRequest, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.works[id]
	if !exists {
		return types.WorkRequest{}, ErrWorkNotFound
	}
	if e.info.State != types.StateEnqueued {
		return types.WorkRequest{}, ErrNotEnqueued
	}

	e.info.State = types.StateRunning
	e.info.UpdatedAt = time.Now().UnixMilli()

	req := e.req
	req.Input = e.req.Input.Clone()
	return req, nil
}

// MarkFinished 記錄一次執行的結果
//
// 單次工作進入 Succeeded / Failed；週期工作回到 Enqueued 等待下一次執行。
func (jm *JobManager) MarkFinished(id types.WorkID, result types.Result) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.works[id]
	if !exists {
		return ErrWorkNotFound
	}
	if e.info.State != types.StateRunning {
		return ErrNotRunning
	}

	e.info.RunCount++
	e.info.LastResult = result.Kind
	e.info.Output = result.Output.Clone()
	e.info.UpdatedAt = time.Now().UnixMilli()

	if e.info.Kind == types.KindPeriodic {
		e.info.State = types.StateEnqueued
		return nil
	}

	if result.Succeeded() {
		e.info.State = types.StateSucceeded
	} else {
		e.info.State = types.StateFailed
	}
	jm.releaseUnique(e)
	return nil
}

// MarkCancelled 將工作標記為已取消，並釋放其唯一名稱
func (jm *JobManager) MarkCancelled(id types.WorkID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.works[id]
	if !exists {
		return ErrWorkNotFound
	}
	if e.info.State.IsFinished() {
		return ErrWorkFinished
	}

	e.info.State = types.StateCancelled
	e.info.UpdatedAt = time.Now().UnixMilli()
	jm.releaseUnique(e)
	return nil
}

// releaseUnique 呼叫者必須持有寫鎖
func (jm *JobManager) releaseUnique(e *entry) {
	if e.req.UniqueName == "" {
		return
	}
	if jm.unique[e.req.UniqueName] == e.req.ID {
		delete(jm.unique, e.req.UniqueName)
	}
}

// ============================================================================
// 查詢方法
// ============================================================================

// Get 取得工作資訊快照
func (jm *JobManager) Get(id types.WorkID) (types.WorkInfo, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	e, exists := jm.works[id]
	if !exists {
		return types.WorkInfo{}, false
	}
	return snapshot(e), true
}

// Request 取得工作目前的請求定義
func (jm *JobManager) Request(id types.WorkID) (types.WorkRequest, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	e, exists := jm.works[id]
	if !exists {
		return types.WorkRequest{}, false
	}
	req := e.req
	req.Input = e.req.Input.Clone()
	return req, true
}

// ByUniqueName 取得唯一名稱目前指向的工作（僅限未終止者）
func (jm *JobManager) ByUniqueName(name string) (types.WorkInfo, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	id, exists := jm.unique[name]
	if !exists {
		return types.WorkInfo{}, false
	}
	return snapshot(jm.works[id]), true
}

// ActiveByTag 取得帶有指定標籤且尚未終止的工作 ID，依加入順序
func (jm *JobManager) ActiveByTag(tag string) []types.WorkID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	var ids []types.WorkID
	for _, id := range jm.order {
		e := jm.works[id]
		if e.info.State.IsFinished() {
			continue
		}
		if e.req.HasTag(tag) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Active 取得所有尚未終止的工作 ID
func (jm *JobManager) Active() []types.WorkID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	var ids []types.WorkID
	for _, id := range jm.order {
		if !jm.works[id].info.State.IsFinished() {
			ids = append(ids, id)
		}
	}
	return ids
}

// List 依加入順序回傳所有工作資訊
func (jm *JobManager) List() []types.WorkInfo {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	infos := make([]types.WorkInfo, 0, len(jm.order))
	for _, id := range jm.order {
		infos = append(infos, snapshot(jm.works[id]))
	}
	return infos
}

// UniqueNames 回傳目前已登記的唯一名稱（已排序）
func (jm *JobManager) UniqueNames() []string {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	names := make([]string, 0, len(jm.unique))
	for name := range jm.unique {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats 取得各狀態工作的統計資訊
func (jm *JobManager) Stats() map[string]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	stats := map[string]int{
		string(types.StateEnqueued):  0,
		string(types.StateRunning):   0,
		string(types.StateSucceeded): 0,
		string(types.StateFailed):    0,
		string(types.StateCancelled): 0,
	}
	for _, e := range jm.works {
		stats[string(e.info.State)]++
	}
	return stats
}

func snapshot(e *entry) types.WorkInfo {
	info := e.info
	info.Tags = append([]string(nil), e.info.Tags...)
	info.Output = e.info.Output.Clone()
	return info
}
