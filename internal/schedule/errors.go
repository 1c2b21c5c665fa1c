package schedule

import "errors"

var (
	// ErrNotScheduled means the resource carries none of the schedule annotations.
	// Callers treat it as "ignore", not as a failure.
	ErrNotScheduled = errors.New("resource is not scheduled")

	ErrUnknownPredefinedSchedule = errors.New("unknown predefined schedule")
	ErrInvalidScheduleAnnotation = errors.New("invalid schedule annotation")
	ErrInvalidCron               = errors.New("invalid cron expression")

	ErrMissingPointerTarget = errors.New("replicas pointer target annotation missing")
	ErrInvalidReplicas      = errors.New("invalid replicas value")
)
