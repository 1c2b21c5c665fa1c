package app

import (
	"fmt"
	"strings"

	"schedscaler/internal/cluster/kube"
	"schedscaler/internal/config"
	"schedscaler/internal/notifier"
	"schedscaler/internal/reconcile"
	"schedscaler/internal/schedule"
	"schedscaler/internal/server"
	logx "schedscaler/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	r := cfg.Reconcile
	interval, err := config.ParseDurationField("reconcile.interval", r.Interval)
	if err != nil {
		return reconcile.Config{}, err
	}
	listTimeout, err := config.ParseDurationField("reconcile.list_timeout", r.ListTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	applyTimeout, err := config.ParseDurationField("reconcile.apply_timeout", r.ApplyTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		Interval:     interval,
		Workers:      r.Workers,
		DryRun:       r.DryRun,
		ListTimeout:  listTimeout,
		ApplyTimeout: applyTimeout,
		ApplyQPS:     r.ApplyQPS,
		ApplyBurst:   r.ApplyBurst,
	}, nil
}

func mapKubeConfig(cfg *config.Config) (kube.Config, error) {
	k := cfg.Kubernetes
	kinds, err := kube.NormalizeKinds(k.Kinds)
	if err != nil {
		return kube.Config{}, fmt.Errorf("kubernetes.kinds: %w", err)
	}
	return kube.Config{
		Kubeconfig:    strings.TrimSpace(k.Kubeconfig),
		Namespaces:    k.Namespaces,
		Kinds:         kinds,
		LabelSelector: strings.TrimSpace(k.LabelSelector),
		QPS:           k.QPS,
		Burst:         k.Burst,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	stale, err := config.ParseDurationField("status.stale_after", cfg.Status.StaleAfter)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Address:    strings.TrimSpace(cfg.Status.Addr),
		Pprof:      cfg.Status.Pprof,
		StaleAfter: stale,
	}, nil
}

// mapNotifierConfig reports enabled=false when notifications are off.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.TelegramConfig, bool, error) {
	n := cfg.Notifier
	if n == nil || !n.Enabled {
		return notifier.Config{}, notifier.TelegramConfig{}, false, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, notifier.TelegramConfig{}, false, err
	}
	retryMax, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, notifier.TelegramConfig{}, false, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, notifier.TelegramConfig{}, false, err
	}
	nc := notifier.Config{
		Enabled:       true,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
		DedupWindow:   dedup,
		PersistDedup:  n.PersistDedup,
		NotifyApplied: n.NotifyApplied,
		NotifyDryRun:  n.NotifyDryRun,
	}
	tc := notifier.TelegramConfig{
		Token:    strings.TrimSpace(n.Token),
		ChatID:   n.ChatID,
		ThreadID: n.ThreadID,
	}
	return nc, tc, true, nil
}

// buildParser loads the predefined schedules (file first, then the inline
// object, which wins on name clashes) and returns a parser for them. Every
// schedule is parsed here so a bad entry fails startup or reload.
func buildParser(cfg *config.Config) (*schedule.Parser, error) {
	loc, err := config.ParseLocation("reconcile.timezone", cfg.Reconcile.Timezone)
	if err != nil {
		return nil, err
	}
	raw := map[string][]schedule.RawEntry{}
	if path := strings.TrimSpace(cfg.PredefinedSchedulesFile); path != "" {
		b, err := config.ReadJSONOrYAML(path)
		if err != nil {
			return nil, fmt.Errorf("predefined_schedules_file: %w", err)
		}
		fromFile, err := schedule.DecodeRegistryJSON(b)
		if err != nil {
			return nil, fmt.Errorf("predefined_schedules_file %s: %w", path, err)
		}
		for name, entries := range fromFile {
			raw[name] = entries
		}
	}
	if len(cfg.PredefinedSchedules) > 0 {
		inline, err := schedule.DecodeRegistryJSON(cfg.PredefinedSchedules)
		if err != nil {
			return nil, fmt.Errorf("predefined_schedules: %w", err)
		}
		for name, entries := range inline {
			raw[name] = entries
		}
	}
	reg, err := schedule.NewRegistry(raw, loc)
	if err != nil {
		return nil, fmt.Errorf("predefined_schedules: %w", err)
	}
	keys := schedule.Keys{
		Schedule:   strings.TrimSpace(cfg.Annotations.Schedule),
		Predefined: strings.TrimSpace(cfg.Annotations.Predefined),
		Disabled:   strings.TrimSpace(cfg.Annotations.Disabled),
	}
	return schedule.NewParser(keys, reg, loc), nil
}
