// ============================================================================
// Stress-Lab 控制器 - 使用者操作與畫面狀態
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 把五個使用者操作轉換為排程器呼叫，並維護畫面上的狀態文字與日誌
//
// 操作對應:
//   1. StartMonitoring - 以唯一名稱登記週期壓力取樣（update policy）
//   2. StopMonitoring  - 依唯一名稱取消
//   3. RunOnce         - 排入單次壓力取樣
//   4. StartTimer      - 排入帶 timer 標籤的單次計時工作
//   5. StopTimer / QuickRelief - 依標籤取消所有計時工作
//
// 狀態模型:
//   - 所有狀態只存在畫面文字中，不持久化
//   - 任何排程器錯誤：狀態顯示 "❌ Error"，並寫入一行日誌
//   - 日誌最多保留 10 行，最新的在最前面
//
// 並發安全:
//   - c.mu 保護所有畫面狀態；排程器呼叫都會立即返回
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/logbuffer"
	"github.com/ChuLiYu/stress-lab/internal/scheduler"
	"github.com/ChuLiYu/stress-lab/internal/tasks"
	"github.com/ChuLiYu/stress-lab/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 常數與錯誤定義
// ============================================================================

// 畫面文字
const (
	StatusIdle    = "INACTIVO"
	StatusActive  = "🟢 ACTIVO"
	StatusStopped = "🔴 DETENIDO"
	StatusError   = "❌ Error"

	WorkerNotStarted = "No iniciado"
	WorkerCancelled  = "Cancelado"

	LastActionNone = "Ninguna"

	TimerIdle    = "Inactivo"
	TimerStopped = "Detenido"

	LogPlaceholder = "Esperando ejecuciones..."
)

const (
	// DefaultMonitorName is the unique name of the periodic stress work
	DefaultMonitorName = "lab10_stress_monitor"
	// DefaultMonitorInterval is the period of the stress work
	DefaultMonitorInterval = 2 * time.Minute
	// DefaultDuration is the preselected timer duration in minutes
	DefaultDuration = 5
)

// DurationChoices are the selectable timer durations in minutes
var DurationChoices = []int{5, 10, 15}

// ErrInvalidDuration is returned when a duration is not one of DurationChoices
var ErrInvalidDuration = errors.New("invalid timer duration")

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 控制器配置
type Config struct {
	MonitorName     string        // 週期工作的唯一名稱
	MonitorInterval time.Duration // 週期工作的間隔
	DefaultTitle    string        // 未指定標題時的計時器標題
	InitialDuration int           // 預設選擇的分鐘數，必須是 DurationChoices 之一
	LogCapacity     int           // 日誌保留行數
	Clock           func() time.Time
}

// View 是畫面目前顯示的內容
type View struct {
	Status       string
	WorkerStatus string
	LastAction   string
	TimerStatus  string
	Duration     int      // 目前選擇的計時分鐘數
	Logs         []string // 最新的在前；沒有日誌時為 placeholder
}

// Controller UI 控制器
type Controller struct {
	mu     sync.Mutex
	client scheduler.Client
	config Config
	logs   *logbuffer.Buffer

	status       string
	workerStatus string
	lastAction   string
	timerStatus  string
	duration     int

	timerID    types.WorkID // 最近一次啟動的計時工作
	timerTitle string
}

// ============================================================================
// 建構
// ============================================================================

// New 建立控制器，client 由呼叫者注入
func New(client scheduler.Client, config Config) (*Controller, error) {
	if client == nil {
		return nil, errors.New("scheduler client is required")
	}
	if config.MonitorName == "" {
		config.MonitorName = DefaultMonitorName
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = DefaultMonitorInterval
	}
	if config.DefaultTitle == "" {
		config.DefaultTitle = tasks.DefaultTimerTitle
	}
	if config.InitialDuration == 0 {
		config.InitialDuration = DefaultDuration
	}
	if !slices.Contains(DurationChoices, config.InitialDuration) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, config.InitialDuration)
	}

	var opts []logbuffer.Option
	if config.Clock != nil {
		opts = append(opts, logbuffer.WithClock(config.Clock))
	}

	return &Controller{
		client:       client,
		config:       config,
		logs:         logbuffer.New(config.LogCapacity, opts...),
		status:       StatusIdle,
		workerStatus: WorkerNotStarted,
		lastAction:   LastActionNone,
		timerStatus:  TimerIdle,
		duration:     config.InitialDuration,
	}, nil
}

// ============================================================================
// 使用者操作
// ============================================================================

// StartMonitoring 登記週期壓力取樣；重複呼叫只會更新既有登記
func (c *Controller) StartMonitoring(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := types.NewPeriodicWork(tasks.StressWorkerName, c.config.MonitorInterval)
	id, err := c.client.EnqueueUniquePeriodicWork(ctx, c.config.MonitorName, types.PolicyUpdate, req)
	if err != nil {
		return c.failLocked("start monitoring", err)
	}

	c.status = StatusActive
	c.workerStatus = fmt.Sprintf("Programado (cada %s)", formatInterval(c.config.MonitorInterval))
	c.lastAction = "Monitoreo iniciado"
	c.logs.Add("🔄 Monitoreo periódico iniciado")

	log.Info("Monitoring started", "name", c.config.MonitorName, "work_id", id, "interval", c.config.MonitorInterval)
	return nil
}

// StopMonitoring 取消週期壓力取樣
func (c *Controller) StopMonitoring(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.CancelUniqueWork(ctx, c.config.MonitorName); err != nil {
		return c.failLocked("stop monitoring", err)
	}

	c.status = StatusStopped
	c.workerStatus = WorkerCancelled
	c.lastAction = "Monitoreo detenido"
	c.logs.Add("⏹ Monitoreo detenido")

	log.Info("Monitoring stopped", "name", c.config.MonitorName)
	return nil
}

// RunOnce 排入一次壓力取樣
func (c *Controller) RunOnce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.client.Enqueue(ctx, types.NewOneTimeWork(tasks.StressWorkerName))
	if err != nil {
		return c.failLocked("run once", err)
	}

	c.lastAction = "Chequeo manual"
	c.logs.Add("🔍 Chequeo manual ejecutado")

	log.Info("One-time check enqueued", "work_id", id)
	return nil
}

// SelectDuration 選擇計時分鐘數；不在選項內時保留原值
func (c *Controller) SelectDuration(minutes int) error {
	if !slices.Contains(DurationChoices, minutes) {
		return fmt.Errorf("%w: %d (choices: %v)", ErrInvalidDuration, minutes, DurationChoices)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = minutes
	return nil
}

// StartTimer 以目前選擇的分鐘數啟動計時器；title 為空時使用預設標題
func (c *Controller) StartTimer(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if title == "" {
		title = c.config.DefaultTitle
	}
	params := tasks.TimerParams{DurationMinutes: int64(c.duration), Title: title}

	id, err := c.client.Enqueue(ctx, tasks.NewTimerRequest(params))
	if err != nil {
		return c.failLocked("start timer", err)
	}

	c.timerID = id
	c.timerTitle = title
	c.timerStatus = fmt.Sprintf("Activo: %s (%d min)", title, c.duration)
	c.lastAction = "Temporizador iniciado"
	c.logs.Add(fmt.Sprintf("⏱ Temporizador iniciado: %s (%d min)", title, c.duration))

	log.Info("Timer started", "work_id", id, "title", title, "minutes", c.duration)
	return nil
}

// StopTimer 取消所有計時工作
func (c *Controller) StopTimer(ctx context.Context) error {
	return c.cancelTimers(ctx, "Temporizador detenido", "⏹ Temporizador detenido")
}

// QuickRelief 立即結束計時，回到放鬆狀態
func (c *Controller) QuickRelief(ctx context.Context) error {
	return c.cancelTimers(ctx, "Alivio rápido", "🧘 Alivio rápido: temporizador cancelado")
}

func (c *Controller) cancelTimers(ctx context.Context, lastAction, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.client.CancelAllWorkByTag(ctx, tasks.TimerTag)
	if err != nil {
		return c.failLocked("stop timer", err)
	}

	c.timerID = ""
	c.timerStatus = TimerStopped
	c.lastAction = lastAction
	c.logs.Add(line)

	log.Info("Timers cancelled", "tag", tasks.TimerTag, "cancelled", n)
	return nil
}

// ============================================================================
// 查詢方法
// ============================================================================

// Refresh 同步最近一次計時工作的結果；結束時只記錄一次日誌
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshTimerLocked()
}

// View 回傳畫面快照，不改變任何狀態
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := c.logs.Entries()
	if len(logs) == 0 {
		logs = []string{LogPlaceholder}
	}

	return View{
		Status:       c.status,
		WorkerStatus: c.workerStatus,
		LastAction:   c.lastAction,
		TimerStatus:  c.timerStatus,
		Duration:     c.duration,
		Logs:         logs,
	}
}

// GetStatus 以 key/value 形式回傳畫面狀態
func (c *Controller) GetStatus() map[string]interface{} {
	v := c.View()
	return map[string]interface{}{
		"status":        v.Status,
		"worker_status": v.WorkerStatus,
		"last_action":   v.LastAction,
		"timer_status":  v.TimerStatus,
		"duration":      v.Duration,
		"logs":          v.Logs,
	}
}

// refreshTimerLocked 呼叫者必須持有 c.mu
func (c *Controller) refreshTimerLocked() {
	if c.timerID == "" {
		return
	}

	info, err := c.client.WorkInfo(c.timerID)
	if err != nil {
		log.Debug("Timer work not found", "work_id", c.timerID, "error", err)
		return
	}

	switch info.State {
	case types.StateSucceeded:
		c.timerStatus = "Completado: " + c.timerTitle
		c.logs.Add("✅ Temporizador completado: " + c.timerTitle)
	case types.StateFailed:
		c.timerStatus = StatusError
		c.logs.Add("❌ Error en temporizador: " + c.timerTitle)
	case types.StateCancelled:
		c.timerStatus = TimerStopped
	default:
		return
	}
	c.timerID = ""
}

// failLocked 呼叫者必須持有 c.mu
func (c *Controller) failLocked(action string, err error) error {
	c.status = StatusError
	c.logs.Add("❌ Error: " + err.Error())
	log.Error("Scheduler call failed", "action", action, "error", err)
	return fmt.Errorf("%s: %w", action, err)
}

// formatInterval 以分鐘顯示整分鐘的間隔
func formatInterval(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return d.String()
}
