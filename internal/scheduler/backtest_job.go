package scheduler

import (
	"github.com/rs/zerolog"
)

// BacktestJob re-runs the configured backtest when triggered. The run
// function is supplied by the driver so the job carries no engine wiring.
type BacktestJob struct {
	name string
	run  func() error
	log  zerolog.Logger
}

// NewBacktestJob wraps a run function as a scheduled job.
func NewBacktestJob(name string, run func() error, log zerolog.Logger) *BacktestJob {
	return &BacktestJob{
		name: name,
		run:  run,
		log:  log.With().Str("job", name).Logger(),
	}
}

// Name identifies the job in scheduler logs.
func (j *BacktestJob) Name() string {
	return j.name
}

// Run executes one backtest cycle.
func (j *BacktestJob) Run() error {
	j.log.Info().Msg("Scheduled backtest starting")
	if err := j.run(); err != nil {
		return err
	}
	j.log.Info().Msg("Scheduled backtest finished")
	return nil
}
