package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/notify"
	"github.com/ChuLiYu/stress-lab/internal/worker"
	"github.com/ChuLiYu/stress-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressSpy struct {
	values []int
}

func (p *progressSpy) SetTimerProgress(percent int) {
	p.values = append(p.values, percent)
}

func (p *progressSpy) ObserveStressLevel(int) {}

func oneMinute() types.Data {
	return TimerParams{DurationMinutes: 1, Title: "Respiración"}.Data()
}

func TestTimer_OneMinuteRun(t *testing.T) {
	rec := notify.NewRecorder()
	spy := &progressSpy{}
	timer := &Timer{Notifier: rec, Recorder: spy}

	res := timer.DoWork(context.Background(), oneMinute())
	require.True(t, res.Succeeded(), "timer failed: %v", res.Err)

	// 61 次進度更新（步驟 0..60）
	posts := rec.Posts(ProgressNotificationID)
	require.Len(t, posts, 61)

	last := -1
	for _, n := range posts {
		assert.GreaterOrEqual(t, n.Progress, last, "progress must not decrease")
		assert.GreaterOrEqual(t, n.Progress, 0)
		assert.LessOrEqual(t, n.Progress, 100)
		assert.True(t, n.Ongoing)
		last = n.Progress
	}
	assert.Equal(t, 0, posts[0].Progress)
	assert.Equal(t, 100, posts[60].Progress)
	assert.Equal(t, "Transcurrido: 00:00 | Restante: 01:00", posts[0].Text)
	assert.Equal(t, "Transcurrido: 01:00 | Restante: 00:00", posts[60].Text)
	assert.Equal(t, "Temporizador: Respiración", posts[0].Title)
	// 61 次進度 + 結束時歸零
	require.Len(t, spy.values, 62)
	assert.Equal(t, 100, spy.values[60])
	assert.Equal(t, 0, spy.values[61])

	// 完成通知出現在所有進度更新之後
	events := rec.Events()
	lastEvent := events[len(events)-1]
	assert.Equal(t, notify.EventPosted, lastEvent.Kind)
	assert.Equal(t, CompletionNotificationID, lastEvent.ID)
	assert.Equal(t, "Temporizador Completado: Respiración", lastEvent.Notification.Title)
	assert.Equal(t, "Temporizador de 1 minutos finalizado", lastEvent.Notification.Text)
	assert.False(t, lastEvent.Notification.Ongoing)
	assert.True(t, lastEvent.Notification.AutoCancel)

	_, ongoing := rec.Active(ProgressNotificationID)
	assert.False(t, ongoing, "ongoing notification is dismissed on completion")

	ch, ok := rec.Channel(TimerChannelID)
	require.True(t, ok)
	assert.Equal(t, notify.ImportanceHigh, ch.Importance)
	assert.Equal(t, notify.VisibilityPublic, ch.Visibility)
}

func TestTimer_CancellationAtStep(t *testing.T) {
	for _, tick := range []time.Duration{0, time.Millisecond} {
		const k = 7

		rec := notify.NewRecorder()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := 0
		rec.OnEvent = func(ev notify.Event) {
			if ev.Kind == notify.EventPosted && ev.ID == ProgressNotificationID {
				if updates == k {
					cancel()
				}
				updates++
			}
		}

		timer := &Timer{Notifier: rec, Tick: tick}
		res := timer.DoWork(ctx, oneMinute())

		assert.False(t, res.Succeeded())
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Len(t, rec.Posts(ProgressNotificationID), k+1, "no updates after step %d", k)
		assert.Empty(t, rec.Posts(CompletionNotificationID), "no completion after cancel")
	}
}

func TestTimer_CancelResetsProgress(t *testing.T) {
	rec := notify.NewRecorder()
	spy := &progressSpy{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec.OnEvent = func(ev notify.Event) {
		if ev.Kind == notify.EventPosted && len(rec.Posts(ProgressNotificationID)) == 30 {
			cancel()
		}
	}

	res := (&Timer{Notifier: rec, Recorder: spy}).DoWork(ctx, oneMinute())
	require.False(t, res.Succeeded())

	require.NotEmpty(t, spy.values)
	assert.Greater(t, spy.values[len(spy.values)-2], 0)
	assert.Equal(t, 0, spy.values[len(spy.values)-1], "gauge returns to zero after cancel")
}

func TestTimer_CancelledBeforeStart(t *testing.T) {
	rec := notify.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := (&Timer{Notifier: rec}).DoWork(ctx, oneMinute())
	assert.False(t, res.Succeeded())
	assert.Empty(t, rec.Posts(ProgressNotificationID))
}

func TestTimer_Defaults(t *testing.T) {
	p := TimerParamsFrom(nil)
	assert.Equal(t, int64(DefaultTimerMinutes), p.DurationMinutes)
	assert.Equal(t, DefaultTimerTitle, p.Title)

	p = TimerParamsFrom(types.Data{KeyTimerDuration: -3.0, KeyTimerTitle: ""})
	assert.Equal(t, int64(5), p.DurationMinutes)
	assert.Equal(t, DefaultTimerTitle, p.Title)

	p = TimerParamsFrom(TimerParams{DurationMinutes: 15, Title: "Pausa"}.Data())
	assert.Equal(t, TimerParams{DurationMinutes: 15, Title: "Pausa"}, p)

	p = TimerParamsFrom(types.Data{KeyTimerDuration: 1e9})
	assert.Equal(t, int64(MaxTimerMinutes), p.DurationMinutes, "long durations are capped")
}

func TestNewTimerRequest(t *testing.T) {
	req := NewTimerRequest(TimerParams{DurationMinutes: 10, Title: "Pausa"})

	assert.Equal(t, types.KindOneTime, req.Kind)
	assert.Equal(t, TimerWorkerName, req.WorkerName)
	assert.True(t, req.HasTag(TimerTag))
	assert.Equal(t, int64(10), req.Input.GetInt64(KeyTimerDuration, 0))
	assert.Equal(t, "Pausa", req.Input.GetString(KeyTimerTitle, ""))
}

type failingNotifier struct {
	*notify.Recorder
	failAfter int
	calls     int
}

func (f *failingNotifier) Notify(id int, n notify.Notification) error {
	f.calls++
	if f.calls > f.failAfter {
		return errors.New("surface gone")
	}
	return nil
}

type panickingNotifier struct{ *notify.Recorder }

func (panickingNotifier) CreateChannel(notify.Channel) error { panic("no surface") }

func TestTimer_Failures(t *testing.T) {
	res := (&Timer{}).DoWork(context.Background(), oneMinute())
	assert.ErrorIs(t, res.Err, ErrNoNotifier)

	failing := &failingNotifier{Recorder: notify.NewRecorder(), failAfter: 3}
	res = (&Timer{Notifier: failing}).DoWork(context.Background(), oneMinute())
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Err.Error(), "surface gone")

	res = (&Timer{Notifier: &panickingNotifier{Recorder: notify.NewRecorder()}}).DoWork(context.Background(), oneMinute())
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Err.Error(), "no surface")
}

func TestRegister(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, Register(reg, Deps{Notifier: notify.NewRecorder(), Recorder: &progressSpy{}, TimerTick: time.Second}))

	assert.Equal(t, []string{StressWorkerName, TimerWorkerName}, reg.Names())

	w, err := reg.New(TimerWorkerName)
	require.NoError(t, err)
	timer, ok := w.(*Timer)
	require.True(t, ok)
	assert.Equal(t, time.Second, timer.Tick)

	assert.Error(t, Register(reg, Deps{}), "registering twice fails")
}

func TestRegister_ZeroTickRunsBackToBack(t *testing.T) {
	reg := worker.NewRegistry()
	rec := notify.NewRecorder()
	require.NoError(t, Register(reg, Deps{Notifier: rec}))

	w, err := reg.New(TimerWorkerName)
	require.NoError(t, err)
	assert.Zero(t, w.(*Timer).Tick, "a zero tick keeps Timer's meaning")

	// 5 分鐘的預設計時不等待即完成
	res := w.DoWork(context.Background(), nil)
	require.True(t, res.Succeeded(), "timer failed: %v", res.Err)
	assert.Len(t, rec.Posts(ProgressNotificationID), 301)
}
