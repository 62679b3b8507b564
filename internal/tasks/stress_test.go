package tasks

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ChuLiYu/stress-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stressSpy struct {
	levels []int
}

func (s *stressSpy) ObserveStressLevel(level int) {
	s.levels = append(s.levels, level)
}

func TestStressSampler_RangeAndSuccess(t *testing.T) {
	spy := &stressSpy{}
	sampler := &StressSampler{Recorder: spy}

	for i := 0; i < 500; i++ {
		res := sampler.DoWork(context.Background(), nil)
		require.True(t, res.Succeeded(), "sampler should always succeed")

		level := res.Output.GetInt64(OutputStressLevel, 0)
		assert.GreaterOrEqual(t, level, int64(1))
		assert.LessOrEqual(t, level, int64(10))
	}
	assert.Len(t, spy.levels, 500)
}

func TestStressSampler_Bounds(t *testing.T) {
	fixed := time.Date(2026, 10, 16, 9, 5, 7, 0, time.UTC)

	low := &StressSampler{IntN: func(n int) int { return 0 }, Now: func() time.Time { return fixed }}
	res := low.DoWork(context.Background(), nil)
	assert.Equal(t, int64(1), res.Output.GetInt64(OutputStressLevel, 0))
	assert.Equal(t, "09:05:07", res.Output.GetString(OutputSampledAt, ""))

	high := &StressSampler{IntN: func(n int) int { return n - 1 }}
	res = high.DoWork(context.Background(), nil)
	assert.Equal(t, int64(10), res.Output.GetInt64(OutputStressLevel, 0))
}

func TestStressSampler_LogsLevel(t *testing.T) {
	var buf bytes.Buffer
	sampler := &StressSampler{
		IntN:   func(n int) int { return 6 },
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	}

	sampler.DoWork(context.Background(), nil)
	assert.Contains(t, buf.String(), "level=7/10")
}

func TestStressSampler_PanicIsFailure(t *testing.T) {
	sampler := &StressSampler{IntN: func(n int) int { panic("no entropy") }}

	res := sampler.DoWork(context.Background(), nil)
	assert.Equal(t, types.ResultFailure, res.Kind)
	assert.Contains(t, res.Err.Error(), "no entropy")
}
