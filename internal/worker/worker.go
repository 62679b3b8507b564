// ============================================================================
// Stress-Lab Executor - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Execution unit that runs tasks, each executor runs in an independent goroutine
//
// How it works:
//   Each executor is an independent goroutine that continuously executes the following loop:
//   1. Receive task from taskCh (blocking wait)
//   2. Run task.Worker.DoWork with the task's own context
//   3. Send result to resultCh
//   4. Repeat above process until taskCh is closed
//
// Cancellation:
//   The scheduler owns each task's context. Cancelling it is the only way to
//   stop a running task; the executor reports whether the context was
//   cancelled when the work returned.
//
// Error Handling:
//   - A panic inside DoWork is recovered and reported as a failure result
//   - A nil Worker is reported as a failure result
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/stress-lab/pkg/types"
)

var log = slog.Default()

// ErrNilWorker is reported when a task carries no Worker
var ErrNilWorker = errors.New("task has no worker")

// executor represents a work execution unit
type executor struct {
	id       int             // executor identifier, used for logging
	taskCh   <-chan Task     // Task channel (read-only)
	resultCh chan<- Result   // Result channel (write-only)
	stopCh   <-chan struct{} // Closed when the pool stops
}

func newExecutor(id int, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *executor {
	return &executor{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the main loop of the executor
func (e *executor) Run() {
	for task := range e.taskCh {
		start := time.Now()

		ctx := task.Ctx
		if ctx == nil {
			ctx = context.Background()
		}

		res := e.execute(ctx, task)

		result := Result{
			WorkID:     task.ID,
			WorkerName: task.WorkerName,
			Result:     res,
			Cancelled:  ctx.Err() != nil,
			Duration:   time.Since(start),
		}

		select {
		case e.resultCh <- result:
		case <-e.stopCh:
			log.Debug("Dropping result after pool stop", "work_id", task.ID, "executor", e.id)
		}
	}
}

// execute runs the task and converts panics into failure results
func (e *executor) execute(ctx context.Context, task Task) (res types.Result) {
	if task.Worker == nil {
		return types.Failure(ErrNilWorker)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker panicked",
				"worker", task.WorkerName,
				"work_id", task.ID,
				"panic", r)
			res = types.Failure(fmt.Errorf("worker %s panicked: %v", task.WorkerName, r))
		}
	}()

	return task.Worker.DoWork(ctx, task.Input.Clone())
}
