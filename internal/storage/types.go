package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Scale action outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeDryRun  = "dry_run"
	OutcomeFailed  = "failed"
)

// ScaleRecord is one scale action. Keep it flat and schema-stable.
type ScaleRecord struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	From      int32     `json:"from"`
	To        int32     `json:"to"`
	Schedule  string    `json:"schedule"`
	Source    string    `json:"source"`
	FiredAt   time.Time `json:"fired_at"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}
