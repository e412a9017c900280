package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewBacktestJob("noop", func() error { return nil }, zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", job))
	assert.NoError(t, s.AddJob("@daily", job))
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	job := NewBacktestJob("counter", func() error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())

	require.NoError(t, s.AddJob("@every 10ms", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		5*time.Second, 5*time.Millisecond)
}

func TestRunNowPropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	wantErr := errors.New("data not ready")
	job := NewBacktestJob("failing", func() error { return wantErr }, zerolog.Nop())

	assert.ErrorIs(t, s.RunNow(job), wantErr)
}

func TestJobErrorDoesNotStopScheduler(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	job := NewBacktestJob("flaky", func() error {
		runs.Add(1)
		return errors.New("transient")
	}, zerolog.Nop())

	require.NoError(t, s.AddJob("@every 10ms", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		5*time.Second, 5*time.Millisecond)
}
