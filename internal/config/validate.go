package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Validate checks what can be checked without building components: duration
// and timezone syntax, drivers, and required notifier fields. Schedule
// contents are checked when the registry is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	r := cfg.Reconcile
	duration("reconcile.interval", r.Interval)
	duration("reconcile.list_timeout", r.ListTimeout)
	duration("reconcile.apply_timeout", r.ApplyTimeout)
	_, err := ParseLocation("reconcile.timezone", r.Timezone)
	check(err)
	if r.Workers < 0 {
		check(fmt.Errorf("reconcile.workers: must be >= 0"))
	}
	if r.ApplyBurst < 0 {
		check(fmt.Errorf("reconcile.apply_burst: must be >= 0"))
	}

	if p := bytes.TrimSpace(cfg.PredefinedSchedules); len(p) > 0 && p[0] != '{' && !bytes.Equal(p, []byte("null")) {
		check(errors.New("predefined_schedules: must be an object of name -> entries"))
	}

	duration("status.stale_after", cfg.Status.StaleAfter)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				check(fmt.Errorf("storage.path: required for driver %q", st.Driver))
			}
		default:
			check(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		duration("storage.busy_timeout", st.BusyTimeout)
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			check(fmt.Errorf("notifier.token: required when enabled (or set %s)", EnvTelegramToken))
		}
		if n.ChatID == 0 {
			check(errors.New("notifier.chat_id: required when enabled"))
		}
		duration("notifier.retry_base", n.RetryBase)
		duration("notifier.retry_max_delay", n.RetryMaxDelay)
		duration("notifier.dedup_window", n.DedupWindow)
	}
	return errors.Join(errs...)
}
