package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/stress-lab/pkg/types"
)

// Worker 是背景工作的執行邏輯
//
// DoWork 必須回傳明確的結果類型；長時間執行的工作應在每個暫停點檢查 ctx。
type Worker interface {
	DoWork(ctx context.Context, input types.Data) types.Result
}

// WorkerFunc 讓普通函式滿足 Worker 介面
type WorkerFunc func(ctx context.Context, input types.Data) types.Result

// DoWork 呼叫 f(ctx, input)
func (f WorkerFunc) DoWork(ctx context.Context, input types.Data) types.Result {
	return f(ctx, input)
}

// Task 代表要交給 Pool 執行的一次工作
type Task struct {
	ID         types.WorkID    // 工作唯一識別碼
	WorkerName string          // worker 名稱，用於日誌與指標
	Worker     Worker          // 執行邏輯
	Input      types.Data      // 輸入資料
	Ctx        context.Context // 取消訊號；nil 表示不可取消
}

// Result 代表任務執行結果
type Result struct {
	WorkID     types.WorkID  // 工作 ID
	WorkerName string        // worker 名稱
	Result     types.Result  // 工作回傳的結果
	Cancelled  bool          // 執行結束時 ctx 是否已被取消
	Duration   time.Duration // 實際執行時間
}
