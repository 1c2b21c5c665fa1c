// Package systemd talks to the service manager when the process runs as a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "schedscaler/pkg/logx"
)

// Ready reports startup completion. sent is false when NOTIFY_SOCKET is unset.
func Ready() (sent bool, err error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(text string) (bool, error) { return daemon.SdNotify(false, "STATUS="+text) }

// Watchdog pings the service manager at half of WatchdogSec for as long as
// healthy returns true. It returns nil at once when the watchdog is off, and
// nil when ctx is canceled.
func Watchdog(ctx context.Context, healthy func() bool, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	period := interval / 2
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if healthy != nil && !healthy() {
			log.Warn("watchdog ping skipped: unhealthy")
			continue
		}
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			log.Debug("watchdog ping failed", logx.Err(err))
		}
	}
}
