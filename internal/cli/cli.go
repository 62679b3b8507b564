// ============================================================================
// Stress-Lab CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Terminal surface of the stress lab, built on Cobra
//
// Command Structure:
//   stresslab                      # Root command
//   ├── run                        # Start scheduler + interactive console
//   ├── sample                     # Take stress samples in the foreground
//   │   └── --count, -n
//   ├── timer                      # Run one countdown in the foreground
//   │   └── --minutes, --title, --tick
//   ├── status                     # Show configuration (and health of a running instance)
//   │   └── --addr
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   ├── --log-level                # Overrides log.level
//   └── --version
//
// Configuration Management:
//   YAML config file, missing file → defaults. Sections:
//   scheduler, monitor, timer, metrics, health, log
//
// run Command:
//   1. Load config file
//   2. Build and start the scheduler, tasks and controller
//   3. Start Metrics HTTP server and gRPC health server (if enabled)
//   4. Read console commands until quit / EOF / SIGINT / SIGTERM
//   5. Cancel outstanding work and shut down
//
// Logging:
//   Packages log through the slog default logger; --log-level or
//   log.level sets its minimum level.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/metrics"
	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/internal/server"
	"github.com/ChuLiYu/stress-lab/internal/tasks"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stresslab",
		Short: "Stress-Lab: background stress monitoring and relaxation timer",
		Long: `Stress-Lab schedules background work from a terminal:
- periodic stress sampling under a unique name
- one-off manual checks
- a countdown timer with progress notifications
- Prometheus metrics and gRPC health checks`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSampleCommand())
	rootCmd.AddCommand(buildTimerCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// setup loads the config and applies the log level
func setup() (*Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetLogLoggerLevel(level)
	return cfg, nil
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and the interactive console",
		Long:  "Start the scheduler, optional metrics and health servers, and read console commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runSystem(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runSystem(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}
	defer app.Stop()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, app.Registry)
		go func() {
			slog.Info("Starting metrics server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics server shutdown error", "error", err)
			}
		}()
	}

	if cfg.Health.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Health.Port, err)
		}
		hs, err := server.NewServer(app.Scheduler, cfg.Health.ProbeInterval)
		if err != nil {
			lis.Close()
			return err
		}
		go func() {
			if err := hs.Serve(lis); err != nil {
				slog.Error("Health server error", "error", err)
			}
		}()
		defer hs.Stop()
	}

	slog.Info("System started successfully", "config", configFile)
	err = runConsole(ctx, app.Controller, in, out)
	slog.Info("Shutting down")
	return err
}

// ============================================================================
// sample
// ============================================================================

func buildSampleCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Take stress samples in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			return runSamples(cmd.Context(), count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of samples")
	return cmd
}

func runSamples(ctx context.Context, count int, out io.Writer) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sampler := &tasks.StressSampler{}
	for i := 0; i < count; i++ {
		res := sampler.DoWork(ctx, nil)
		if !res.Succeeded() {
			return fmt.Errorf("sample failed: %w", res.Err)
		}
		fmt.Fprintf(out, "Nivel de estrés: %d/10 (%s)\n",
			res.Output.GetInt64(tasks.OutputStressLevel, 0),
			res.Output.GetString(tasks.OutputSampledAt, ""))
	}
	return nil
}

// ============================================================================
// timer
// ============================================================================

func buildTimerCommand() *cobra.Command {
	var minutes int
	var title string
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Run one countdown timer in the foreground",
		Long:  "Run one countdown, printing progress notifications; Ctrl+C cancels it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("minutes") {
				minutes = cfg.Timer.DefaultMinutes
			}
			if !cmd.Flags().Changed("title") {
				title = cfg.Timer.DefaultTitle
			}
			if !cmd.Flags().Changed("tick") {
				tick = cfg.Timer.Tick
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTimer(ctx, notify.NewConsole(slog.Default()), tasks.TimerParams{
				DurationMinutes: int64(minutes),
				Title:           title,
			}, tick, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&minutes, "minutes", 5, "timer duration in minutes")
	cmd.Flags().StringVar(&title, "title", tasks.DefaultTimerTitle, "timer title")
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "delay between countdown steps")
	return cmd
}

func runTimer(ctx context.Context, notifier notify.Service, p tasks.TimerParams, tick time.Duration, out io.Writer) error {
	if p.DurationMinutes > tasks.MaxTimerMinutes {
		return fmt.Errorf("minutes must be at most %d, got %d", tasks.MaxTimerMinutes, p.DurationMinutes)
	}
	timer := &tasks.Timer{Notifier: notifier, Tick: tick}

	res := timer.DoWork(ctx, p.Data())
	if !res.Succeeded() {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "Temporizador cancelado")
			return nil
		}
		return fmt.Errorf("timer failed: %w", res.Err)
	}

	fmt.Fprintf(out, "Temporizador completado: %s\n", res.Output.GetString(tasks.KeyTimerTitle, p.Title))
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display configuration and, with --addr, the health of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return showStatus(cmd.Context(), cfg, addr, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "health endpoint of a running instance (e.g. localhost:50051)")
	return cmd
}

func showStatus(ctx context.Context, cfg *Config, addr string, out io.Writer) error {
	fmt.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           Stress-Lab System Status                        ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📋 Configuration:")
	fmt.Fprintf(out, "  ├─ Config File:     %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Worker Count:    %d\n", cfg.Scheduler.WorkerCount)
	fmt.Fprintf(out, "  └─ Log Level:       %s\n", cfg.Log.Level)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🔄 Monitoring:")
	fmt.Fprintf(out, "  ├─ Unique Name:     %s\n", cfg.Monitor.UniqueName)
	fmt.Fprintf(out, "  └─ Interval:        %s\n", cfg.Monitor.Interval)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "⏱  Timer:")
	fmt.Fprintf(out, "  ├─ Default:         %d min\n", cfg.Timer.DefaultMinutes)
	fmt.Fprintf(out, "  └─ Title:           %s\n", cfg.Timer.DefaultTitle)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(out, "  └─ Status: ⚠️  Disabled")
	}
	fmt.Fprintln(out)

	if addr != "" {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		fmt.Fprintln(out, "💓 Health:")
		status, err := server.Check(ctx, addr)
		if err != nil {
			fmt.Fprintf(out, "  └─ %s: ❌ %v\n", addr, err)
		} else {
			fmt.Fprintf(out, "  └─ %s: %s\n", addr, status)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
	return nil
}
