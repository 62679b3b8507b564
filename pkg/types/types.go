// Package types 定義了 stress-lab 系統中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidData 表示輸入資料包含非基本型別的值
var ErrInvalidData = errors.New("invalid work input data")

// WorkID 工作項目唯一識別碼
type WorkID string

// WorkKind 工作類型
type WorkKind string

const (
	KindPeriodic WorkKind = "periodic" // 週期性工作：依固定間隔重複執行
	KindOneTime  WorkKind = "one_time" // 單次工作：執行一次後結束
)

// WorkState 工作狀態
type WorkState string

const (
	StateEnqueued  WorkState = "enqueued"  // 已排入：等待執行
	StateRunning   WorkState = "running"   // 執行中
	StateSucceeded WorkState = "succeeded" // 成功完成（僅單次工作）
	StateFailed    WorkState = "failed"    // 執行失敗（僅單次工作）
	StateCancelled WorkState = "cancelled" // 已取消
)

// IsFinished 回報狀態是否為終止狀態
func (s WorkState) IsFinished() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ExistingWorkPolicy 決定同名唯一工作已存在時的處理方式
type ExistingWorkPolicy string

const (
	PolicyUpdate  ExistingWorkPolicy = "update"  // 保留既有登記，更新其定義
	PolicyKeep    ExistingWorkPolicy = "keep"    // 保留既有登記，忽略新的提交
	PolicyReplace ExistingWorkPolicy = "replace" // 取消既有登記，改用新的提交
)

// ============================================================================
// 輸入資料
// ============================================================================

// Data 是傳給工作的不透明鍵值資料，只允許基本型別（數字、字串、布林、null）
type Data map[string]interface{}

// NewData 透過 structpb 正規化輸入值。
// 數字一律轉為 float64，巢狀結構與列表會被拒絕。
func NewData(values map[string]interface{}) (Data, error) {
	s, err := structpb.NewStruct(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	out := make(Data, len(s.GetFields()))
	for key, v := range s.GetFields() {
		switch v.GetKind().(type) {
		case *structpb.Value_StructValue, *structpb.Value_ListValue:
			return nil, fmt.Errorf("%w: key %q is not a primitive value", ErrInvalidData, key)
		}
		out[key] = v.AsInterface()
	}
	return out, nil
}

// GetInt64 讀取整數值，不存在或型別不符時回傳 def
func (d Data) GetInt64(key string, def int64) int64 {
	switch v := d[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return def
	}
}

// GetString 讀取字串值，不存在或型別不符時回傳 def
func (d Data) GetString(key string, def string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return def
}

// Clone 回傳淺拷貝
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ============================================================================
// 工作請求
// ============================================================================

// WorkRequest 描述一個可排程的背景工作單元
type WorkRequest struct {
	ID         WorkID        `json:"id"`                    // 工作唯一識別碼
	Kind       WorkKind      `json:"kind"`                  // 週期性或單次
	WorkerName string        `json:"worker"`                // 負責執行的 worker 名稱
	Interval   time.Duration `json:"interval,omitempty"`    // 執行間隔（僅週期性工作）
	Input      Data          `json:"input,omitempty"`       // 輸入資料
	Tags       []string      `json:"tags,omitempty"`        // 標籤，可依標籤取消
	UniqueName string        `json:"unique_name,omitempty"` // 唯一工作名稱（由排程器填入）
}

// RequestOption 設定 WorkRequest 的可選欄位
type RequestOption func(*WorkRequest)

// WithInput 設定輸入資料
func WithInput(input Data) RequestOption {
	return func(r *WorkRequest) {
		r.Input = input.Clone()
	}
}

// WithTags 加入標籤
func WithTags(tags ...string) RequestOption {
	return func(r *WorkRequest) {
		r.Tags = append(r.Tags, tags...)
	}
}

// NewOneTimeWork 建立單次工作請求
func NewOneTimeWork(workerName string, opts ...RequestOption) WorkRequest {
	req := WorkRequest{
		ID:         WorkID(uuid.NewString()),
		Kind:       KindOneTime,
		WorkerName: workerName,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// NewPeriodicWork 建立週期性工作請求
func NewPeriodicWork(workerName string, interval time.Duration, opts ...RequestOption) WorkRequest {
	req := NewOneTimeWork(workerName, opts...)
	req.Kind = KindPeriodic
	req.Interval = interval
	return req
}

// HasTag 檢查請求是否帶有指定標籤
func (r WorkRequest) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ============================================================================
// 執行結果
// ============================================================================

// ResultKind 工作執行結果類型，只區分成功與失敗
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
)

// Result 是每個工作進入點回傳的明確結果
type Result struct {
	Kind   ResultKind // 成功或失敗
	Output Data       // 輸出資料（可為 nil）
	Err    error      // 失敗原因（成功時為 nil）
}

// Success 建立成功結果
func Success(output Data) Result {
	return Result{Kind: ResultSuccess, Output: output}
}

// Failure 建立失敗結果
func Failure(err error) Result {
	return Result{Kind: ResultFailure, Err: err}
}

// Succeeded 回報結果是否成功
func (r Result) Succeeded() bool {
	return r.Kind == ResultSuccess
}

// ============================================================================
// 工作資訊
// ============================================================================

// WorkInfo 是工作項目的唯讀快照
type WorkInfo struct {
	ID         WorkID     `json:"id"`
	Kind       WorkKind   `json:"kind"`
	WorkerName string     `json:"worker"`
	State      WorkState  `json:"state"`
	Tags       []string   `json:"tags,omitempty"`
	UniqueName string     `json:"unique_name,omitempty"`
	RunCount   int        `json:"run_count"`             // 已完成的執行次數
	LastResult ResultKind `json:"last_result,omitempty"` // 最近一次執行結果
	Output     Data       `json:"output,omitempty"`      // 最近一次執行輸出
	CreatedAt  int64      `json:"created_at"`            // Unix 毫秒
	UpdatedAt  int64      `json:"updated_at"`            // Unix 毫秒
}
