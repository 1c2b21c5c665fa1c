package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"schedscaler/internal/eventbus"
	"schedscaler/internal/storage"
	logx "schedscaler/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

// Service is safe for concurrent use. Enqueue never blocks.
type Service struct {
	cfg     Config
	sender  Sender
	store   storage.Store
	log     logx.Logger
	limiter *rate.Limiter
	queue   chan Message
	now     func() time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	dmu   sync.Mutex
	dedup map[string]time.Time
}

// New builds the service. store may be nil; it is only used for dedup when
// PersistDedup is set.
func New(cfg Config, sender Sender, store storage.Store, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		store:   store,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		queue:   make(chan Message, cfg.QueueSize),
		now:     time.Now,
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.sender != nil }

// Stats is a best-effort operational view.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Dropped: s.dropped.Load(), Failed: s.failed.Load()}
}

// Enqueue applies dedup and queues m. It returns nil for a suppressed
// duplicate and ErrQueueFull when the message was dropped.
func (s *Service) Enqueue(ctx context.Context, m Message) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if m.Key != "" && s.cfg.DedupWindow > 0 && !s.dedupAllow(ctx, m.Key) {
		s.log.Trace("notification suppressed", logx.String("key", m.Key))
		return nil
	}
	select {
	case s.queue <- m:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// HandleEvent formats ev and enqueues it when it is worth a message.
func (s *Service) HandleEvent(ctx context.Context, ev eventbus.Event) {
	m, ok := s.format(ev)
	if !ok {
		return
	}
	if err := s.Enqueue(ctx, m); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Debug("notification not queued", logx.String("event", ev.Type), logx.Err(err))
	}
}

// Run consumes events until ctx is canceled or events is closed, and sends
// queued messages on a separate goroutine. Messages still queued at exit are
// discarded.
func (s *Service) Run(ctx context.Context, events <-chan eventbus.Event) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sendLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleEvent(ctx, ev)
		}
	}
}

func (s *Service) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			s.sendWithRetry(ctx, m)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, m Message) {
	attempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sender.Send(cctx, m.Text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			return
		}
		lastErr = err
		s.log.Debug("notification send failed", logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.failed.Add(1)
	s.log.Warn("notification dropped after retries", logx.Int("attempts", attempts), logx.Err(lastErr))
}

func (s *Service) format(ev eventbus.Event) (Message, bool) {
	se, ok := ev.Data.(eventbus.ScaleEvent)
	if !ok {
		return Message{}, false
	}
	ref := fmt.Sprintf("%s %s/%s", se.Kind, se.Namespace, se.Name)
	switch ev.Type {
	case eventbus.TypeScaleApplied:
		if !s.cfg.NotifyApplied {
			return Message{}, false
		}
		return Message{Text: fmt.Sprintf("scaled %s %d -> %d\nschedule %q (%s)", ref, se.From, se.To, se.Schedule, se.Source)}, true
	case eventbus.TypeScaleDryRun:
		if !s.cfg.NotifyDryRun {
			return Message{}, false
		}
		return Message{Text: fmt.Sprintf("dry-run: would scale %s %d -> %d\nschedule %q (%s)", ref, se.From, se.To, se.Schedule, se.Source)}, true
	case eventbus.TypeScaleFailed:
		return Message{
			Key:  dedupKey(ev.Type, ref, se.Error),
			Text: fmt.Sprintf("scale failed: %s %d -> %d\n%s", ref, se.From, se.To, se.Error),
		}, true
	case eventbus.TypeScheduleRejected:
		return Message{
			Key:  dedupKey(ev.Type, ref, se.Error),
			Text: fmt.Sprintf("schedule rejected: %s\n%s", ref, se.Error),
		}, true
	default:
		return Message{}, false
	}
}

func dedupKey(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("notify:%x", h.Sum64())
}

// dedupAllow reports whether key is outside its suppression window and, if
// so, opens a new one.
func (s *Service) dedupAllow(ctx context.Context, key string) bool {
	now := s.now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	persist := s.cfg.PersistDedup && s.store != nil
	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(s.cfg.DedupWindow)
	s.dmu.Lock()
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = until
	s.dmu.Unlock()

	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := s.store.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with 0.7..1.3
// jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
