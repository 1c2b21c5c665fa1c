package reconcile

import (
	"fmt"
	"time"

	"schedscaler/internal/cluster"
	"schedscaler/internal/schedule"
)

// Config controls the loop. Zero values fall back to the defaults below.
type Config struct {
	Interval     time.Duration // default 1m
	Workers      int           // default 4
	DryRun       bool
	ListTimeout  time.Duration // default 30s
	ApplyTimeout time.Duration // default 10s
	ApplyQPS     float64       // default 5; <0 disables limiting
	ApplyBurst   int           // default max(1, ApplyQPS)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ListTimeout <= 0 {
		c.ListTimeout = 30 * time.Second
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 10 * time.Second
	}
	if c.ApplyQPS == 0 {
		c.ApplyQPS = 5
	}
	if c.ApplyBurst <= 0 {
		c.ApplyBurst = int(c.ApplyQPS)
		if c.ApplyBurst < 1 {
			c.ApplyBurst = 1
		}
	}
	return c
}

// Stage names where a per-resource failure happened.
type Stage string

const (
	StageList    Stage = "list"
	StageParse   Stage = "parse"
	StageResolve Stage = "resolve"
	StageApply   Stage = "apply"
)

// ResourceError is a failure scoped to one resource (or one of its entries).
type ResourceError struct {
	Ref   cluster.Ref
	Stage Stage
	Err   error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Ref, e.Stage, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Status is the per-resource outcome of one pass.
type Status string

const (
	StatusNotScheduled Status = "not_scheduled"
	StatusDisabled     Status = "disabled"
	StatusParseError   Status = "parse_error"
	StatusNoChange     Status = "no_change"
	StatusUpToDate     Status = "up_to_date"
	StatusDryRun       Status = "dry_run"
	StatusScaled       Status = "scaled"
	StatusApplyError   Status = "apply_error"
)

// Result is what happened to one resource.
type Result struct {
	Ref      cluster.Ref
	Status   Status
	Source   string
	From     int32
	Decision schedule.Decision
	// Retry is set when Decision was carried over from a failed apply in
	// an earlier pass rather than fired in this window.
	Retry  bool
	Errors []*ResourceError
}

// Report summarizes one pass.
type Report struct {
	Window    schedule.Window
	StartedAt time.Time
	Took      time.Duration
	Results   []Result
	ListError error
	Committed bool
}

// Errors returns every collected per-resource error in result order.
func (r *Report) Errors() []*ResourceError {
	var out []*ResourceError
	for i := range r.Results {
		out = append(out, r.Results[i].Errors...)
	}
	return out
}

// Counts returns the number of results per status.
func (r *Report) Counts() map[Status]int {
	m := map[Status]int{}
	for i := range r.Results {
		m[r.Results[i].Status]++
	}
	return m
}

// Recorder receives a finished report. Metrics implement it.
type Recorder interface {
	ObservePass(r *Report)
}
