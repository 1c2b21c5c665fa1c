package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedscaler/internal/cluster"
	"schedscaler/internal/eventbus"
	"schedscaler/internal/schedule"
)

// fakeCluster is both Lister and Scaler. Scale updates the stored replicas so
// the next List sees the new value.
type fakeCluster struct {
	mu        sync.Mutex
	resources []cluster.Resource
	listErr   error
	failFor   map[string]error
	calls     []scaleCall
}

type scaleCall struct {
	Ref      cluster.Ref
	Replicas int32
}

func (f *fakeCluster) List(ctx context.Context) ([]cluster.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]cluster.Resource, len(f.resources))
	copy(out, f.resources)
	return out, nil
}

func (f *fakeCluster) Scale(ctx context.Context, ref cluster.Ref, replicas int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[ref.Name]; err != nil {
		return err
	}
	f.calls = append(f.calls, scaleCall{Ref: ref, Replicas: replicas})
	for i := range f.resources {
		if f.resources[i].Ref == ref {
			f.resources[i].Replicas = replicas
		}
	}
	return nil
}

func (f *fakeCluster) scaleCalls() []scaleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scaleCall(nil), f.calls...)
}

func deployment(name string, replicas int32, ann map[string]string) cluster.Resource {
	return cluster.Resource{
		Ref:         cluster.Ref{Kind: cluster.KindDeployment, Namespace: "default", Name: name},
		Annotations: ann,
		Replicas:    replicas,
	}
}

func inline(v string) map[string]string {
	return map[string]string{schedule.DefaultScheduleKey: v}
}

func testConfig() Config {
	return Config{Interval: time.Minute, Workers: 2, ApplyQPS: -1}
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2024, time.March, 4, hh, mm, ss, 0, time.UTC)
}

func findResult(t *testing.T, rep Report, name string) Result {
	t.Helper()
	for _, r := range rep.Results {
		if r.Ref.Name == name {
			return r
		}
	}
	t.Fatalf("no result for %q", name)
	return Result{}
}

func TestRunOnceAppliesFiredEntryOnce(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
	}}
	l := New(testConfig(), fc, fc, nil)
	ctx := context.Background()

	rep, err := l.RunOnce(ctx, at(9, 30, 20))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Committed {
		t.Fatal("pass should commit")
	}
	if got := findResult(t, rep, "web").Status; got != StatusScaled {
		t.Fatalf("status = %s, want %s", got, StatusScaled)
	}
	calls := fc.scaleCalls()
	if len(calls) != 1 || calls[0].Replicas != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if !l.PreviousTick().Equal(at(9, 30, 20)) {
		t.Fatalf("PreviousTick = %s", l.PreviousTick())
	}

	// next tick: window (09:30:20, 09:31:20] has no fire
	rep, err = l.RunOnce(ctx, at(9, 31, 20))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := findResult(t, rep, "web").Status; got != StatusNoChange {
		t.Fatalf("status = %s, want %s", got, StatusNoChange)
	}
	if n := len(fc.scaleCalls()); n != 1 {
		t.Fatalf("scale calls = %d, want 1", n)
	}
}

func TestRunOnceFirstPassLooksBackOneInterval(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[{"schedule":"29 9 * * *","replicas":2}]`)),
	}}
	l := New(testConfig(), fc, fc, nil)

	rep, err := l.RunOnce(context.Background(), at(9, 29, 30))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Window.Prev.Equal(at(9, 28, 30)) {
		t.Fatalf("window prev = %s", rep.Window.Prev)
	}
	if got := findResult(t, rep, "web").Status; got != StatusScaled {
		t.Fatalf("status = %s", got)
	}
}

func TestRunOnceSkipsWhenAlreadyAtTarget(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 3, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
	}}
	l := New(testConfig(), fc, fc, nil)

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := findResult(t, rep, "web").Status; got != StatusUpToDate {
		t.Fatalf("status = %s", got)
	}
	if n := len(fc.scaleCalls()); n != 0 {
		t.Fatalf("scale calls = %d, want 0", n)
	}
}

func TestRunOnceDryRunPublishesWithoutScaling(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"4"}]`)),
	}}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	cfg := testConfig()
	cfg.DryRun = true
	l := New(cfg, fc, fc, nil, WithBus(bus))

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	r := findResult(t, rep, "web")
	if r.Status != StatusDryRun || r.Decision.Target != 4 {
		t.Fatalf("result = %+v", r)
	}
	if n := len(fc.scaleCalls()); n != 0 {
		t.Fatalf("dry run scaled %d times", n)
	}

	ev := <-ch
	if ev.Type != eventbus.TypeScaleDryRun {
		t.Fatalf("event type = %q", ev.Type)
	}
	se := ev.Data.(eventbus.ScaleEvent)
	if se.From != 1 || se.To != 4 || !se.DryRun || se.Source != "inline" {
		t.Fatalf("event = %+v", se)
	}
	if ev = <-ch; ev.Type != eventbus.TypePassDone {
		t.Fatalf("event type = %q, want pass.done", ev.Type)
	}
}

func TestRunOnceDisabledAndUnscheduled(t *testing.T) {
	t.Parallel()
	ann := inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)
	ann[schedule.DefaultDisabledKey] = "True"
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("off", 1, ann),
		deployment("plain", 1, nil),
	}}
	l := New(testConfig(), fc, fc, nil)

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := findResult(t, rep, "off").Status; got != StatusDisabled {
		t.Fatalf("off status = %s", got)
	}
	if got := findResult(t, rep, "plain").Status; got != StatusNotScheduled {
		t.Fatalf("plain status = %s", got)
	}
	if n := len(fc.scaleCalls()); n != 0 {
		t.Fatalf("scale calls = %d", n)
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("conflict")
	fc := &fakeCluster{
		resources: []cluster.Resource{
			deployment("bad-json", 1, inline(`[{"schedule":`)),
			deployment("fails", 1, inline(`[{"schedule":"30 9 * * *","replicas":"2"}]`)),
			deployment("ok", 1, inline(`[{"schedule":"30 9 * * *","replicas":"5"}]`)),
		},
		failFor: map[string]error{"fails": boom},
	}
	l := New(testConfig(), fc, fc, nil)

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Committed {
		t.Fatal("per-resource failures must not block commit")
	}

	bad := findResult(t, rep, "bad-json")
	if bad.Status != StatusParseError || len(bad.Errors) != 1 || bad.Errors[0].Stage != StageParse {
		t.Fatalf("bad-json = %+v", bad)
	}
	if !errors.Is(bad.Errors[0], schedule.ErrInvalidScheduleAnnotation) {
		t.Fatalf("bad-json err = %v", bad.Errors[0])
	}

	fails := findResult(t, rep, "fails")
	if fails.Status != StatusApplyError || !errors.Is(fails.Errors[0], boom) {
		t.Fatalf("fails = %+v", fails)
	}

	if got := findResult(t, rep, "ok").Status; got != StatusScaled {
		t.Fatalf("ok status = %s", got)
	}
	if n := len(rep.Errors()); n != 2 {
		t.Fatalf("report errors = %d, want 2", n)
	}
}

func TestRunOnceEntryResolveErrorFallsBackToOtherEntries(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[
			{"schedule":"30 9 * * *","replicas":"2"},
			{"schedule":"30 9 * * *","replicas":"missing-key"}
		]`)),
	}}
	l := New(testConfig(), fc, fc, nil)

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	r := findResult(t, rep, "web")
	if r.Status != StatusScaled || r.Decision.Target != 2 {
		t.Fatalf("result = %+v", r)
	}
	if len(r.Errors) != 1 || r.Errors[0].Stage != StageResolve {
		t.Fatalf("errors = %+v", r.Errors)
	}
	if !errors.Is(r.Errors[0], schedule.ErrMissingPointerTarget) {
		t.Fatalf("err = %v", r.Errors[0])
	}
}

func TestRunOnceListErrorDoesNotCommit(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{listErr: errors.New("apiserver down")}
	var hooked *Report
	l := New(testConfig(), fc, fc, nil, WithPassHook(func(r *Report) { hooked = r }))

	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err == nil {
		t.Fatal("expected error")
	}
	if rep.Committed || rep.ListError == nil {
		t.Fatalf("report = %+v", rep)
	}
	if !l.PreviousTick().IsZero() {
		t.Fatalf("PreviousTick moved to %s", l.PreviousTick())
	}
	if hooked == nil || hooked.ListError == nil {
		t.Fatal("pass hook should see the failed pass")
	}

	// recovery: the next pass still covers the first window
	fc.mu.Lock()
	fc.listErr = nil
	fc.resources = []cluster.Resource{deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`))}
	fc.mu.Unlock()
	rep, err = l.RunOnce(context.Background(), at(9, 30, 40))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := findResult(t, rep, "web").Status; got != StatusScaled {
		t.Fatalf("status = %s", got)
	}
}

func TestRunOnceCanceledDoesNotCommit(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
	}}
	l := New(testConfig(), fc, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := l.RunOnce(ctx, at(9, 30, 10))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Committed || !l.PreviousTick().IsZero() {
		t.Fatal("canceled pass must not commit")
	}
	if n := len(fc.scaleCalls()); n != 0 {
		t.Fatalf("scale calls = %d", n)
	}
}

func drainTypes(ch <-chan eventbus.Event) []string {
	var out []string
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestRunOnceRetriesFailedScale(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{
		resources: []cluster.Resource{
			deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
		},
		failFor: map[string]error{"web": errors.New("conflict")},
	}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	l := New(testConfig(), fc, fc, nil, WithBus(bus))
	ctx := context.Background()

	rep, err := l.RunOnce(ctx, at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if r := findResult(t, rep, "web"); r.Status != StatusApplyError || r.Retry {
		t.Fatalf("first pass = %+v", r)
	}
	if got := drainTypes(ch); len(got) != 2 || got[0] != eventbus.TypeScaleFailed {
		t.Fatalf("events = %v", got)
	}
	if p := l.Pending(); len(p) != 1 || p[0].Name != "web" {
		t.Fatalf("pending = %v", p)
	}

	// still failing: kept for the next pass
	rep, _ = l.RunOnce(ctx, at(9, 31, 10))
	if r := findResult(t, rep, "web"); r.Status != StatusApplyError || !r.Retry || r.Decision.Target != 3 {
		t.Fatalf("second pass = %+v", r)
	}

	fc.mu.Lock()
	fc.failFor = nil
	fc.mu.Unlock()
	rep, _ = l.RunOnce(ctx, at(9, 32, 10))
	r := findResult(t, rep, "web")
	if r.Status != StatusScaled || !r.Retry || r.Decision.Target != 3 {
		t.Fatalf("third pass = %+v", r)
	}
	if calls := fc.scaleCalls(); len(calls) != 1 || calls[0].Replicas != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if p := l.Pending(); len(p) != 0 {
		t.Fatalf("pending after success = %v", p)
	}

	rep, _ = l.RunOnce(ctx, at(9, 33, 10))
	if got := findResult(t, rep, "web").Status; got != StatusNoChange {
		t.Fatalf("after retry status = %s", got)
	}
	if n := len(fc.scaleCalls()); n != 1 {
		t.Fatalf("scale calls = %d, want 1", n)
	}
}

func TestRunOnceNewerFireReplacesFailedScale(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{
		resources: []cluster.Resource{
			deployment("web", 1, inline(`[
				{"schedule":"30 9 * * *","replicas":"3"},
				{"schedule":"32 9 * * *","replicas":"6"}
			]`)),
		},
		failFor: map[string]error{"web": errors.New("conflict")},
	}
	l := New(testConfig(), fc, fc, nil)
	ctx := context.Background()

	if _, err := l.RunOnce(ctx, at(9, 30, 10)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	fc.mu.Lock()
	fc.failFor = nil
	fc.mu.Unlock()

	rep, _ := l.RunOnce(ctx, at(9, 32, 10))
	r := findResult(t, rep, "web")
	if r.Status != StatusScaled || r.Retry || r.Decision.Target != 6 {
		t.Fatalf("result = %+v", r)
	}
	if calls := fc.scaleCalls(); len(calls) != 1 || calls[0].Replicas != 6 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestRunOnceDropsFailedScale(t *testing.T) {
	t.Parallel()
	ann := inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)
	tests := []struct {
		name   string
		change func(fc *fakeCluster)
	}{
		{name: "annotation removed", change: func(fc *fakeCluster) { fc.resources[0].Annotations = nil }},
		{name: "disabled", change: func(fc *fakeCluster) {
			fc.resources[0].Annotations = map[string]string{
				schedule.DefaultScheduleKey: ann[schedule.DefaultScheduleKey],
				schedule.DefaultDisabledKey: "true",
			}
		}},
		{name: "resource deleted", change: func(fc *fakeCluster) { fc.resources = nil }},
		{name: "scaled by hand", change: func(fc *fakeCluster) { fc.resources[0].Replicas = 3 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fc := &fakeCluster{
				resources: []cluster.Resource{deployment("web", 1, ann)},
				failFor:   map[string]error{"web": errors.New("conflict")},
			}
			l := New(testConfig(), fc, fc, nil)
			ctx := context.Background()
			if _, err := l.RunOnce(ctx, at(9, 30, 10)); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			fc.mu.Lock()
			fc.failFor = nil
			tt.change(fc)
			fc.mu.Unlock()

			if _, err := l.RunOnce(ctx, at(9, 31, 10)); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if p := l.Pending(); len(p) != 0 {
				t.Fatalf("pending = %v", p)
			}
			if n := len(fc.scaleCalls()); n != 0 {
				t.Fatalf("scale calls = %d", n)
			}
		})
	}
}

// cancelingScaler cancels the pass from inside the first scale call, the way
// a shutdown signal lands mid-pass.
type cancelingScaler struct {
	cancel context.CancelFunc
}

func (s *cancelingScaler) Scale(ctx context.Context, _ cluster.Ref, _ int32) error {
	s.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestRunOnceShutdownDoesNotReportScaleFailed(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("a", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
		deployment("b", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testConfig()
	cfg.Workers = 1
	l := New(cfg, fc, &cancelingScaler{cancel: cancel}, nil, WithBus(bus))

	rep, err := l.RunOnce(ctx, at(9, 30, 10))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Committed {
		t.Fatal("canceled pass must not commit")
	}
	for _, typ := range drainTypes(ch) {
		if typ == eventbus.TypeScaleFailed {
			t.Fatal("scale.failed published for a canceled apply")
		}
	}
	if p := l.Pending(); len(p) != 0 {
		t.Fatalf("pending = %v", p)
	}
}

func TestRunOnceClockStepBackKeepsPreviousTick(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{resources: []cluster.Resource{
		deployment("web", 1, inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)),
	}}
	l := New(testConfig(), fc, fc, nil)
	ctx := context.Background()

	if _, err := l.RunOnce(ctx, at(9, 30, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := len(fc.scaleCalls()); n != 1 {
		t.Fatalf("scale calls = %d, want 1", n)
	}
	// scaled away by hand so a second fire would be visible
	fc.mu.Lock()
	fc.resources[0].Replicas = 1
	fc.mu.Unlock()

	rep, err := l.RunOnce(ctx, at(9, 29, 30))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Committed {
		t.Fatal("pass behind previous tick must not commit")
	}
	if !l.PreviousTick().Equal(at(9, 30, 30)) {
		t.Fatalf("PreviousTick = %s", l.PreviousTick())
	}

	rep, err = l.RunOnce(ctx, at(9, 31, 0))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Committed || !rep.Window.Prev.Equal(at(9, 30, 30)) {
		t.Fatalf("report = %+v", rep)
	}
	if n := len(fc.scaleCalls()); n != 1 {
		t.Fatalf("09:30 fired again: scale calls = %d", n)
	}
}

func TestRunOncePredefinedWinsAndParserSwap(t *testing.T) {
	t.Parallel()
	ann := inline(`[{"schedule":"30 9 * * *","replicas":"3"}]`)
	ann[schedule.DefaultPredefinedKey] = "office"
	fc := &fakeCluster{resources: []cluster.Resource{deployment("web", 1, ann)}}

	reg, err := schedule.NewRegistry(map[string][]schedule.RawEntry{
		"office": {{Schedule: "30 9 * * *", Replicas: "7"}},
	}, time.UTC)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	// start without the registry: predefined name is unknown
	l := New(testConfig(), fc, fc, nil)
	rep, err := l.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	r := findResult(t, rep, "web")
	if r.Status != StatusParseError || !errors.Is(r.Errors[0], schedule.ErrUnknownPredefinedSchedule) {
		t.Fatalf("result = %+v", r)
	}

	l.SetParser(schedule.NewParser(schedule.DefaultKeys(), reg, time.UTC))
	rep, err = l.RunOnce(context.Background(), at(9, 31, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// window (09:30:10, 09:31:10] has no fire; the swap itself changes nothing
	if got := findResult(t, rep, "web").Status; got != StatusNoChange {
		t.Fatalf("status = %s", got)
	}

	fresh := New(testConfig(), fc, fc, schedule.NewParser(schedule.DefaultKeys(), reg, time.UTC))
	rep, err = fresh.RunOnce(context.Background(), at(9, 30, 10))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	r = findResult(t, rep, "web")
	if r.Status != StatusScaled || r.Decision.Target != 7 || r.Source != "predefined:office" {
		t.Fatalf("result = %+v", r)
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	passes int
}

func (c *countingRecorder) ObservePass(*Report) {
	c.mu.Lock()
	c.passes++
	c.mu.Unlock()
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	fc := &fakeCluster{}
	rec := &countingRecorder{}
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	l := New(cfg, fc, fc, nil, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		rec.mu.Lock()
		n := rec.passes
		rec.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d passes before deadline", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := l.LastReport(); !ok {
		t.Fatal("LastReport should be set")
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{}.withDefaults()
	if c.Interval != time.Minute || c.Workers != 4 || c.ListTimeout != 30*time.Second ||
		c.ApplyTimeout != 10*time.Second || c.ApplyQPS != 5 || c.ApplyBurst != 5 {
		t.Fatalf("defaults = %+v", c)
	}
	c = Config{ApplyQPS: 0.5}.withDefaults()
	if c.ApplyBurst != 1 {
		t.Fatalf("burst = %d, want 1", c.ApplyBurst)
	}
}
