package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvInterval            = "SCHEDSCALER_INTERVAL"
	EnvTimezone            = "SCHEDSCALER_TIMEZONE"
	EnvDryRun              = "SCHEDSCALER_DRY_RUN"
	EnvLogLevel            = "SCHEDSCALER_LOG_LEVEL"
	EnvNamespaces          = "SCHEDSCALER_NAMESPACES"
	EnvPredefinedSchedules = "SCHEDSCALER_PREDEFINED_SCHEDULES"
	EnvTelegramToken       = "SCHEDSCALER_TELEGRAM_TOKEN"
	EnvKubeconfig          = "KUBECONFIG"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment overrides onto cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvInterval); ok {
		cfg.Reconcile.Interval = v
	}
	if v, ok := get(EnvTimezone); ok {
		cfg.Reconcile.Timezone = v
	}
	if v, ok := get(EnvDryRun); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid bool %q", EnvDryRun, v)
		}
		cfg.Reconcile.DryRun = b
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvNamespaces); ok {
		cfg.Kubernetes.Namespaces = splitList(v)
	}
	if v, ok := get(EnvPredefinedSchedules); ok {
		if !json.Valid([]byte(v)) {
			return fmt.Errorf("%s: not valid JSON", EnvPredefinedSchedules)
		}
		cfg.PredefinedSchedules = json.RawMessage(v)
	}
	if v, ok := get(EnvTelegramToken); ok {
		if cfg.Notifier == nil {
			cfg.Notifier = &NotifierConfig{}
		}
		cfg.Notifier.Token = v
	}
	// KUBECONFIG only fills a gap; an explicit kubeconfig in the file wins.
	if v, ok := get(EnvKubeconfig); ok && strings.TrimSpace(cfg.Kubernetes.Kubeconfig) == "" {
		cfg.Kubernetes.Kubeconfig = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
