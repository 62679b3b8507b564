package tasks

import (
	"log/slog"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/internal/worker"
)

// Recorder receives task-level metrics
type Recorder interface {
	StressRecorder
	TimerRecorder
}

// Deps are the collaborators shared by every task instance
type Deps struct {
	Notifier  notify.Service
	TimerTick time.Duration // passed to Timer.Tick as is; zero runs steps back to back
	Recorder  Recorder      // optional
	Logger    *slog.Logger  // optional
}

// Register adds the stress sampler and the timer to reg.
func Register(reg *worker.Registry, deps Deps) error {
	var stressRec StressRecorder
	var timerRec TimerRecorder
	if deps.Recorder != nil {
		stressRec = deps.Recorder
		timerRec = deps.Recorder
	}

	if err := reg.Register(StressWorkerName, func() worker.Worker {
		return &StressSampler{Recorder: stressRec, Logger: taskLogger(deps.Logger, StressWorkerName)}
	}); err != nil {
		return err
	}

	return reg.Register(TimerWorkerName, func() worker.Worker {
		return &Timer{
			Notifier: deps.Notifier,
			Tick:     deps.TimerTick,
			Recorder: timerRec,
			Logger:   taskLogger(deps.Logger, TimerWorkerName),
		}
	})
}

func taskLogger(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("worker", name)
}
