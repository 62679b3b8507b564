// Package tasks holds the background work run by the scheduler: the stress
// sampler and the countdown timer.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ChuLiYu/stress-lab/pkg/types"
)

const (
	// StressWorkerName is the registry name of the stress sampler
	StressWorkerName = "stress_monitor"

	// OutputStressLevel is the output key holding the sampled level
	OutputStressLevel = "stress_level"
	// OutputSampledAt is the output key holding the HH:MM:SS sample time
	OutputSampledAt = "sampled_at"

	minStressLevel = 1
	maxStressLevel = 10
)

// StressRecorder receives sampled stress levels
type StressRecorder interface {
	ObserveStressLevel(level int)
}

// StressSampler draws a simulated stress reading in [1,10] and logs it.
// It holds no state across runs.
type StressSampler struct {
	IntN     func(n int) int  // random source, rand.IntN when nil
	Now      func() time.Time // clock, time.Now when nil
	Recorder StressRecorder   // optional
	Logger   *slog.Logger     // slog.Default when nil
}

// DoWork samples one stress level
func (s *StressSampler) DoWork(ctx context.Context, _ types.Data) (res types.Result) {
	logger := s.logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ Stress sampler failed", "error", r)
			res = types.Failure(fmt.Errorf("stress sampler: %v", r))
		}
	}()

	intn := s.IntN
	if intn == nil {
		intn = rand.IntN
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	level := minStressLevel + intn(maxStressLevel-minStressLevel+1)
	sampledAt := now().Format("15:04:05")

	logger.Info("📊 Stress level sampled",
		"time", sampledAt,
		"level", fmt.Sprintf("%d/%d", level, maxStressLevel))

	if s.Recorder != nil {
		s.Recorder.ObserveStressLevel(level)
	}

	return types.Success(types.Data{
		OutputStressLevel: float64(level),
		OutputSampledAt:   sampledAt,
	})
}

func (s *StressSampler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
