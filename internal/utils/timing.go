// Package utils holds small helpers shared across the engine.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowRunThreshold is when a measured phase gets escalated to a warning.
const slowRunThreshold = 30 * time.Second

// Timer measures the duration of a run phase and logs it on Stop.
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer starts a timer for the named phase.
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug()
	if duration > slowRunThreshold {
		event = t.log.Warn()
	}
	event.
		Str("phase", t.name).
		Dur("duration", duration).
		Msg("Phase timing")

	return duration
}
