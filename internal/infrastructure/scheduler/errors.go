package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidSchedule is returned for cron expressions that cannot be parsed
	ErrInvalidSchedule = errors.New("invalid cron schedule")

	// ErrNotRunning is returned when triggering a component that is stopped
	ErrNotRunning = errors.New("scheduler is not running")
)
