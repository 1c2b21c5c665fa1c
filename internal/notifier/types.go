package notifier

import "time"

// Config controls the notification pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int           // default 256
	RatePerSec    float64       // default 1
	RetryMax      int           // extra attempts after the first; default 0
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
	SendTimeout   time.Duration // default 10s
	DedupWindow   time.Duration // default 1h; <0 disables
	PersistDedup  bool

	NotifyApplied bool
	NotifyDryRun  bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = time.Hour
	}
	return c
}

// Message is one queued notification.
type Message struct {
	// Key groups messages for dedup; empty disables dedup.
	Key  string
	Text string
}
