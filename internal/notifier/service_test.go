package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"schedscaler/internal/eventbus"
	logx "schedscaler/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	fail  int // fail the first n sends
	block chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, text string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("telegram 502")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func failedEvent(name, msg string) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeScaleFailed, Data: eventbus.ScaleEvent{
		Kind: "Deployment", Namespace: "default", Name: name, From: 1, To: 3, Error: msg,
	}}
}

func TestFormatHonoursToggles(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &recordingSender{}, nil, logx.Nop())
	applied := eventbus.Event{Type: eventbus.TypeScaleApplied, Data: eventbus.ScaleEvent{Kind: "Deployment", Namespace: "ns", Name: "web", From: 1, To: 3, Schedule: "30 9 * * *", Source: "inline"}}

	if _, ok := s.format(applied); ok {
		t.Fatal("applied events are off unless NotifyApplied")
	}
	s.cfg.NotifyApplied = true
	m, ok := s.format(applied)
	if !ok || !strings.Contains(m.Text, "Deployment ns/web 1 -> 3") || m.Key != "" {
		t.Fatalf("message = %+v", m)
	}

	rejected := eventbus.Event{Type: eventbus.TypeScheduleRejected, Data: eventbus.ScaleEvent{Kind: "StatefulSet", Namespace: "db", Name: "pg", Error: "bad cron"}}
	m, ok = s.format(rejected)
	if !ok || m.Key == "" || !strings.Contains(m.Text, "bad cron") {
		t.Fatalf("message = %+v", m)
	}
	if _, ok := s.format(eventbus.Event{Type: eventbus.TypePassDone, Data: eventbus.PassEvent{}}); ok {
		t.Fatal("pass events are not notified")
	}
}

func TestEnqueueDedupsRepeatedFailures(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, DedupWindow: time.Hour}, &recordingSender{}, nil, logx.Nop())
	ctx := context.Background()

	s.HandleEvent(ctx, failedEvent("web", "forbidden"))
	s.HandleEvent(ctx, failedEvent("web", "forbidden"))
	s.HandleEvent(ctx, failedEvent("web", "conflict"))
	s.HandleEvent(ctx, failedEvent("api", "forbidden"))
	if got := len(s.queue); got != 3 {
		t.Fatalf("queued = %d, want 3", got)
	}

	// window expires
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	s.HandleEvent(ctx, failedEvent("web", "forbidden"))
	if got := len(s.queue); got != 4 {
		t.Fatalf("queued = %d, want 4", got)
	}
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func TestPersistentDedupAcrossInstances(t *testing.T) {
	t.Parallel()
	store := &fakeStore{memDedup: memDedup{m: map[string]time.Time{}}}
	cfg := Config{Enabled: true, PersistDedup: true}
	ctx := context.Background()

	first := New(cfg, &recordingSender{}, store, logx.Nop())
	first.HandleEvent(ctx, failedEvent("web", "forbidden"))
	if len(first.queue) != 1 {
		t.Fatal("first instance should queue")
	}

	second := New(cfg, &recordingSender{}, store, logx.Nop())
	second.HandleEvent(ctx, failedEvent("web", "forbidden"))
	if len(second.queue) != 0 {
		t.Fatal("second instance should see the persisted window")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, QueueSize: 1}, &recordingSender{}, nil, logx.Nop())
	ctx := context.Background()
	if err := s.Enqueue(ctx, Message{Text: "a"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.Enqueue(ctx, Message{Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second = %v, want ErrQueueFull", err)
	}
	if got := s.Stats().Dropped; got != 1 {
		t.Fatalf("dropped = %d", got)
	}
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingSender{}, nil, logx.Nop())
	if err := s.Enqueue(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Run(context.Background(), nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Run = %v", err)
	}
}

func TestRunDeliversWithRetry(t *testing.T) {
	t.Parallel()
	snd := &recordingSender{fail: 1}
	s := New(Config{
		Enabled:       true,
		NotifyApplied: true,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}, snd, nil, logx.Nop())

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ch) }()

	bus.Publish(eventbus.Event{Type: eventbus.TypeScaleApplied, Data: eventbus.ScaleEvent{Kind: "Deployment", Namespace: "ns", Name: "web", From: 1, To: 2}})
	waitFor(t, func() bool { return len(snd.got()) == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if st := s.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSlowSenderNeverBlocksEnqueue(t *testing.T) {
	t.Parallel()
	snd := &recordingSender{block: make(chan struct{})}
	s := New(Config{Enabled: true, QueueSize: 2, RatePerSec: 100, DedupWindow: -1}, snd, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan eventbus.Event)
	go func() { _ = s.Run(ctx, events) }()

	start := time.Now()
	for i := 0; i < 20; i++ {
		events <- failedEvent("web", "boom")
	}
	if time.Since(start) > time.Second {
		t.Fatal("event handling blocked on the sender")
	}
	if s.Stats().Dropped == 0 {
		t.Fatal("expected drops with a stuck sender")
	}
	close(snd.block)
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 {
		t.Fatalf("chunks = %v", got)
	}
	long := strings.Repeat("abcdefgh\n", 5) // 45 runes
	got := splitText(long, 20)
	if strings.Join(got, "") != long {
		t.Fatal("chunks must concatenate back to the input")
	}
	for _, c := range got {
		if len([]rune(c)) > 20 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
}
