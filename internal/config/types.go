package config

import "encoding/json"

// Config is the on-disk configuration (JSON or YAML). Every section is
// optional; omitted fields take the defaults documented on each type.
type Config struct {
	Reconcile   ReconcileConfig   `json:"reconcile"`
	Kubernetes  KubernetesConfig  `json:"kubernetes"`
	Annotations AnnotationsConfig `json:"annotations,omitempty"`

	// PredefinedSchedules maps a name to a JSON array of
	// {"schedule", "replicas"} entries, the same shape as the inline
	// annotation. Decoded strictly by the app.
	PredefinedSchedules json.RawMessage `json:"predefined_schedules,omitempty"`
	// PredefinedSchedulesFile is a JSON or YAML file with the same object.
	// Names in the file are overridden by predefined_schedules.
	PredefinedSchedulesFile string `json:"predefined_schedules_file,omitempty"`

	Logging  LoggingConfig   `json:"logging"`
	Status   StatusConfig    `json:"status"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

// ReconcileConfig controls the periodic pass.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults:
//   - interval: "1m"
//   - timezone: "UTC" (IANA name, or "Local")
//   - workers: 4
//   - apply_qps: 5 (negative disables limiting)
//   - list_timeout: "30s"
//   - apply_timeout: "10s"
type ReconcileConfig struct {
	Interval     string  `json:"interval,omitempty"`
	Timezone     string  `json:"timezone,omitempty"`
	DryRun       bool    `json:"dry_run,omitempty"`
	Workers      int     `json:"workers,omitempty"`
	ApplyQPS     float64 `json:"apply_qps,omitempty"`
	ApplyBurst   int     `json:"apply_burst,omitempty"`
	ListTimeout  string  `json:"list_timeout,omitempty"`
	ApplyTimeout string  `json:"apply_timeout,omitempty"`
}

// KubernetesConfig selects the cluster and what to look at in it.
//
// With kubeconfig empty the client runs in-cluster when
// KUBERNETES_SERVICE_HOST is set, else falls back to $KUBECONFIG and
// ~/.kube/config. Empty namespaces means all namespaces.
type KubernetesConfig struct {
	Kubeconfig    string   `json:"kubeconfig,omitempty"`
	Namespaces    []string `json:"namespaces,omitempty"`
	Kinds         []string `json:"kinds,omitempty"` // default: Deployment, StatefulSet
	LabelSelector string   `json:"label_selector,omitempty"`
	QPS           float32  `json:"qps,omitempty"`
	Burst         int      `json:"burst,omitempty"`
}

// AnnotationsConfig overrides the annotation keys.
type AnnotationsConfig struct {
	Schedule   string `json:"schedule,omitempty"`
	Predefined string `json:"predefined,omitempty"`
	Disabled   string `json:"disabled,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StatusConfig controls the HTTP status listener.
//
// Example:
//
//	"status": { "enabled": true, "addr": ":8080", "stale_after": "5m" }
type StatusConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default ":8080"
	Pprof      bool   `json:"pprof,omitempty"`
	StaleAfter string `json:"stale_after,omitempty"`
}

// StorageConfig controls the optional scale audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/schedscaler" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls Telegram notifications.
//
// The bot token can be left empty here and supplied through
// SCHEDSCALER_TELEGRAM_TOKEN.
type NotifierConfig struct {
	Enabled       bool    `json:"enabled"`
	Token         string  `json:"token,omitempty"`
	ChatID        int64   `json:"chat_id"`
	ThreadID      int     `json:"thread_id,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	DedupWindow   string  `json:"dedup_window,omitempty"`
	PersistDedup  bool    `json:"persist_dedup,omitempty"`
	NotifyApplied bool    `json:"notify_applied,omitempty"`
	NotifyDryRun  bool    `json:"notify_dry_run,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Status:  StatusConfig{Enabled: true},
	}
}
