package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/pkg/types"
)

const (
	// TimerWorkerName is the registry name of the countdown timer
	TimerWorkerName = "timer"
	// TimerTag tags every timer request so it can be cancelled as a group
	TimerTag = "timer_work"

	// TimerChannelID is the notification channel used by the timer
	TimerChannelID = "timer_channel"
	// ProgressNotificationID is the ongoing notification rewritten every tick
	ProgressNotificationID = 100
	// CompletionNotificationID is the dismissible notification posted at the end
	CompletionNotificationID = ProgressNotificationID + 1

	// Input data keys
	KeyTimerDuration = "timer_duration"
	KeyTimerTitle    = "timer_title"

	DefaultTimerMinutes = 5
	DefaultTimerTitle   = "Temporizador Estrés"
	// MaxTimerMinutes bounds the number of countdown steps
	MaxTimerMinutes = 24 * 60

	logEverySteps = 30
)

// ErrNoNotifier is returned when a Timer runs without a notification service
var ErrNoNotifier = errors.New("timer has no notification service")

// TimerParams are the immutable inputs of one timer run
type TimerParams struct {
	DurationMinutes int64
	Title           string
}

// Data encodes the parameters as work input data
func (p TimerParams) Data() types.Data {
	return types.Data{
		KeyTimerDuration: float64(p.DurationMinutes),
		KeyTimerTitle:    p.Title,
	}
}

// TimerParamsFrom decodes parameters from input data, applying defaults
func TimerParamsFrom(input types.Data) TimerParams {
	p := TimerParams{
		DurationMinutes: input.GetInt64(KeyTimerDuration, DefaultTimerMinutes),
		Title:           input.GetString(KeyTimerTitle, DefaultTimerTitle),
	}
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = DefaultTimerMinutes
	}
	if p.DurationMinutes > MaxTimerMinutes {
		p.DurationMinutes = MaxTimerMinutes
	}
	if p.Title == "" {
		p.Title = DefaultTimerTitle
	}
	return p
}

// NewTimerRequest builds the one-time, tagged request that runs a timer
func NewTimerRequest(p TimerParams) types.WorkRequest {
	return types.NewOneTimeWork(TimerWorkerName,
		types.WithInput(p.Data()),
		types.WithTags(TimerTag))
}

// TimerRecorder receives timer progress
type TimerRecorder interface {
	SetTimerProgress(percent int)
}

// TimerChannel is the channel the timer posts to
var TimerChannel = notify.Channel{
	ID:          TimerChannelID,
	Name:        "Temporizador de Estrés",
	Description: "Notificaciones del temporizador de monitoreo de estrés",
	Importance:  notify.ImportanceHigh,
	Visibility:  notify.VisibilityPublic,
	Silent:      true,
}

// Timer counts down in fixed steps and keeps an ongoing progress
// notification up to date. Steps run from 0 to minutes*60 inclusive.
type Timer struct {
	Notifier notify.Service
	Tick     time.Duration // delay between steps; zero runs steps back to back
	Recorder TimerRecorder // optional
	Logger   *slog.Logger  // slog.Default when nil
}

// DoWork runs the countdown. Cancelling ctx stops it at the next step boundary.
func (t *Timer) DoWork(ctx context.Context, input types.Data) (res types.Result) {
	logger := t.logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Error en temporizador", "error", r)
			res = types.Failure(fmt.Errorf("timer: %v", r))
		}
	}()

	if t.Notifier == nil {
		return types.Failure(ErrNoNotifier)
	}

	p := TimerParamsFrom(input)
	logger.Info("Temporizador iniciado", "title", p.Title, "minutes", p.DurationMinutes)

	if err := t.Notifier.CreateChannel(TimerChannel); err != nil {
		logger.Error("Error en temporizador", "error", err)
		return types.Failure(fmt.Errorf("create channel: %w", err))
	}

	err := t.countdown(ctx, p, logger)
	t.resetProgress()
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Temporizador cancelado", "title", p.Title)
			t.dismiss(logger)
		} else {
			logger.Error("Error en temporizador", "error", err)
		}
		return types.Failure(err)
	}

	t.dismiss(logger)
	if err := t.Notifier.Notify(CompletionNotificationID, completionNotification(p)); err != nil {
		logger.Error("Error en temporizador", "error", err)
		return types.Failure(fmt.Errorf("post completion: %w", err))
	}

	logger.Info("Temporizador completado", "title", p.Title)
	return types.Success(types.Data{KeyTimerDuration: float64(p.DurationMinutes), KeyTimerTitle: p.Title})
}

func (t *Timer) countdown(ctx context.Context, p TimerParams, logger *slog.Logger) error {
	total := int(p.DurationMinutes * 60)

	var wait *time.Timer
	if t.Tick > 0 {
		wait = time.NewTimer(t.Tick)
		defer wait.Stop()
	}

	for elapsed := 0; elapsed <= total; elapsed++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := total - elapsed
		progress := elapsed * 100 / total

		if err := t.Notifier.Notify(ProgressNotificationID, progressNotification(p.Title, elapsed, remaining, progress)); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if t.Recorder != nil {
			t.Recorder.SetTimerProgress(progress)
		}

		if elapsed%logEverySteps == 0 {
			logger.Info("Temporizador", "remaining", fmt.Sprintf("%d:%02d", remaining/60, remaining%60))
		}

		if elapsed == total {
			break
		}
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// sleep suspends for one tick; it is the only suspension point of the loop
func (t *Timer) sleep(ctx context.Context, wait *time.Timer) error {
	if wait == nil {
		return ctx.Err()
	}
	wait.Reset(t.Tick)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wait.C:
		return nil
	}
}

// resetProgress clears the progress gauge once a run ends, whatever the outcome
func (t *Timer) resetProgress() {
	if t.Recorder != nil {
		t.Recorder.SetTimerProgress(0)
	}
}

func (t *Timer) dismiss(logger *slog.Logger) {
	if err := t.Notifier.Cancel(ProgressNotificationID); err != nil {
		logger.Warn("Failed to dismiss timer notification", "error", err)
	}
}

func (t *Timer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func progressNotification(title string, elapsed, remaining, progress int) notify.Notification {
	elapsedText := formatClock(elapsed)
	remainingText := formatClock(remaining)
	return notify.Notification{
		ChannelID: TimerChannelID,
		Title:     "Temporizador: " + title,
		Text:      fmt.Sprintf("Transcurrido: %s | Restante: %s", elapsedText, remainingText),
		BigText: fmt.Sprintf("Tiempo transcurrido: %s\nTiempo restante: %s\nProgreso: %d%%\n\n"+
			"Ejercicio de manejo de estrés en progreso...", elapsedText, remainingText, progress),
		Progress:      progress,
		ProgressMax:   100,
		Ongoing:       true,
		OnlyAlertOnce: true,
	}
}

func completionNotification(p TimerParams) notify.Notification {
	return notify.Notification{
		ChannelID: TimerChannelID,
		Title:     "Temporizador Completado: " + p.Title,
		Text:      fmt.Sprintf("Temporizador de %d minutos finalizado", p.DurationMinutes),
		BigText: fmt.Sprintf("Excelente! Has completado tu sesión de %d minutos.\n\n"+
			"Recomendación: Toma un descanso, respira profundamente y evalúa tu nivel de estrés actual.", p.DurationMinutes),
		AutoCancel: true,
	}
}

// formatClock renders seconds as MM:SS
func formatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
