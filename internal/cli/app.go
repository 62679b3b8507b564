package cli

import (
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/stress-lab/internal/controller"
	"github.com/ChuLiYu/stress-lab/internal/metrics"
	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/internal/scheduler"
	"github.com/ChuLiYu/stress-lab/internal/tasks"
	"github.com/ChuLiYu/stress-lab/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// App wires the scheduler, tasks, notifications and controller together
type App struct {
	Config     *Config
	Registry   *prometheus.Registry
	Metrics    *metrics.Collector
	Notifier   notify.Service
	Scheduler  *scheduler.Scheduler
	Controller *controller.Controller
}

// newApp builds every component from cfg; nothing runs until Start.
// notifier receives timer notifications; a console notifier is used when nil.
func newApp(cfg *Config, notifier notify.Service) (*App, error) {
	if notifier == nil {
		notifier = notify.NewConsole(slog.Default())
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	workers := worker.NewRegistry()
	if err := tasks.Register(workers, tasks.Deps{
		Notifier:  notifier,
		TimerTick: cfg.Timer.Tick,
		Recorder:  collector,
	}); err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	sched, err := scheduler.New(workers, scheduler.Config{
		WorkerCount: cfg.Scheduler.WorkerCount,
		BufferSize:  cfg.Scheduler.BufferSize,
		Recorder:    collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctrl, err := controller.New(sched, controller.Config{
		MonitorName:     cfg.Monitor.UniqueName,
		MonitorInterval: cfg.Monitor.Interval,
		DefaultTitle:    cfg.Timer.DefaultTitle,
		InitialDuration: cfg.Timer.DefaultMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	return &App{
		Config:     cfg,
		Registry:   promReg,
		Metrics:    collector,
		Notifier:   notifier,
		Scheduler:  sched,
		Controller: ctrl,
	}, nil
}

// Start starts the scheduler
func (a *App) Start() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Stop cancels all outstanding work and waits for the workers to exit
func (a *App) Stop() {
	a.Scheduler.Stop()
}
