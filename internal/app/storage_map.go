package app

import (
	"strings"
	"time"

	"schedscaler/internal/config"
	"schedscaler/internal/storage"
)

// mapStorageConfig reports enabled=false when no audit log is configured.
// Driver and path were already checked by config.Validate.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	}
	return out, true, nil
}
