package config

import (
	"bytes"
	"reflect"
	"strings"

	logx "schedscaler/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// safe fields for logging them. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	oldR, newR := oldCfg.Reconcile, newCfg.Reconcile
	if oldR.Timezone != newR.Timezone {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("reconcile.timezone", newR.Timezone))
	}
	oldR.Timezone, newR.Timezone = "", ""
	if oldR != newR {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.String("reconcile.interval", newR.Interval),
			logx.Bool("reconcile.dry_run", newR.DryRun),
			logx.Int("reconcile.workers", newR.Workers),
		)
	}
	if !reflect.DeepEqual(oldCfg.Kubernetes, newCfg.Kubernetes) {
		k := newCfg.Kubernetes
		changed = append(changed, "kubernetes")
		attrs = append(attrs,
			logx.Strings("kubernetes.namespaces", k.Namespaces),
			logx.Strings("kubernetes.kinds", k.Kinds),
			logx.String("kubernetes.label_selector", k.LabelSelector),
		)
	}
	if oldCfg.Annotations != newCfg.Annotations {
		changed = append(changed, "annotations")
	}
	if !bytes.Equal(bytes.TrimSpace(oldCfg.PredefinedSchedules), bytes.TrimSpace(newCfg.PredefinedSchedules)) ||
		strings.TrimSpace(oldCfg.PredefinedSchedulesFile) != strings.TrimSpace(newCfg.PredefinedSchedulesFile) {
		changed = append(changed, "predefined_schedules")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(redactNotifier(oldCfg.Notifier), redactNotifier(newCfg.Notifier)) ||
		tokenSet(oldCfg.Notifier) != tokenSet(newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.token_set", tokenSet(newCfg.Notifier)))
	}
	return changed, attrs
}

// RestartRequired filters the sections that are read only at startup.
// Timezone, annotations, predefined schedules and logging apply live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "kubernetes", "status", "storage", "notifier", "reconcile":
			out = append(out, c)
		}
	}
	return out
}

func redactNotifier(n *NotifierConfig) *NotifierConfig {
	if n == nil {
		return nil
	}
	c := *n
	c.Token = ""
	return &c
}

func tokenSet(n *NotifierConfig) bool {
	return n != nil && strings.TrimSpace(n.Token) != ""
}
