package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/controller"
	"github.com/ChuLiYu/stress-lab/internal/metrics"
	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/internal/scheduler"
	"github.com/ChuLiYu/stress-lab/internal/tasks"
	"github.com/ChuLiYu/stress-lab/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Walks through the five user actions on a compressed clock:
// monitoring every 2s instead of 2 min, timer steps every 10ms instead of 1s.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.SetLogLoggerLevel(slog.LevelWarn)

	notifier := notify.NewRecorder()
	collector := metrics.NewCollector(prometheus.NewRegistry())

	reg := worker.NewRegistry()
	if err := tasks.Register(reg, tasks.Deps{Notifier: notifier, TimerTick: 10 * time.Millisecond, Recorder: collector}); err != nil {
		log.Fatalf("Failed to register tasks: %v", err)
	}

	sched, err := scheduler.New(reg, scheduler.Config{WorkerCount: 2, Recorder: collector})
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	ctrl, err := controller.New(sched, controller.Config{MonitorInterval: 2 * time.Second})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	fmt.Println("✓ Scheduler started")
	show(ctrl)

	steps := []struct {
		name string
		run  func() error
		wait time.Duration
	}{
		{"Start monitoring", func() error { return ctrl.StartMonitoring(ctx) }, 5 * time.Second},
		{"Run once", func() error { return ctrl.RunOnce(ctx) }, 200 * time.Millisecond},
		{"Select 10 min", func() error { return ctrl.SelectDuration(10) }, 0},
		{"Start timer", func() error { return ctrl.StartTimer(ctx, "Respiración") }, 2 * time.Second},
		{"Quick relief", func() error { return ctrl.QuickRelief(ctx) }, 200 * time.Millisecond},
		{"Select 5 min", func() error { return ctrl.SelectDuration(5) }, 0},
		{"Start timer", func() error { return ctrl.StartTimer(ctx, "") }, 4 * time.Second},
		{"Stop monitoring", func() error { return ctrl.StopMonitoring(ctx) }, 0},
	}

	for _, step := range steps {
		fmt.Printf("\n▶ %s\n", step.name)
		if err := step.run(); err != nil {
			fmt.Printf("  error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			fmt.Println("\n\nReceived shutdown signal, stopping gracefully...")
			return
		case <-time.After(step.wait):
		}
		show(ctrl)
	}

	stats := sched.Stats()
	fmt.Printf("\n📊 Work: Succeeded=%d, Failed=%d, Cancelled=%d\n",
		stats["succeeded"], stats["failed"], stats["cancelled"])
	fmt.Printf("🔔 Progress updates posted: %d, completions: %d\n",
		len(notifier.Posts(tasks.ProgressNotificationID)),
		len(notifier.Posts(tasks.CompletionNotificationID)))
}

func show(ctrl *controller.Controller) {
	ctrl.Refresh()
	v := ctrl.View()
	fmt.Printf("  Estado: %s | Worker: %s | Última acción: %s\n", v.Status, v.WorkerStatus, v.LastAction)
	fmt.Printf("  Temporizador: %s (duración: %d min)\n", v.TimerStatus, v.Duration)
	for _, l := range v.Logs {
		fmt.Printf("    %s\n", l)
	}
}
