package eventbus

import "time"

// Event types published by the reconciler.
const (
	TypeScaleApplied = "scale.applied"
	TypeScaleDryRun  = "scale.dry_run"
	TypeScaleFailed  = "scale.failed"
	TypePassDone     = "pass.done"

	// TypeScheduleRejected carries a ScaleEvent with only the resource
	// fields, Source and Error set.
	TypeScheduleRejected = "schedule.rejected"
)

// ScaleEvent is the Data of scale.* events.
type ScaleEvent struct {
	Kind      string
	Namespace string
	Name      string
	From      int32
	To        int32
	Schedule  string // cron expression of the winning entry
	Source    string // "inline" or "predefined:<name>"
	FiredAt   time.Time
	DryRun    bool
	Error     string
}

// PassEvent is the Data of pass.done events.
type PassEvent struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Resources   int
	Scaled      int
	Failed      int
	Took        time.Duration
}
