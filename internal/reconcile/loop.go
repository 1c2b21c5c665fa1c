package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"schedscaler/internal/cluster"
	"schedscaler/internal/eventbus"
	"schedscaler/internal/schedule"
	logx "schedscaler/pkg/logx"
)

// Loop drives periodic passes over the cluster's scalable resources.
//
// It owns previousTick: the end of the last fully completed pass. Each pass
// evaluates (previousTick, now] and commits now only once every resource was
// handled, so an interrupted pass is re-evaluated by the next one.
//
// A scale that fails is kept as pending and re-applied by later passes until
// it succeeds, a newer fire replaces it, or the resource stops being
// scheduled.
type Loop struct {
	cfg    Config
	lister cluster.Lister
	scaler cluster.Scaler
	parser atomic.Pointer[schedule.Parser]

	log      logx.Logger
	bus      eventbus.Bus
	recorder Recorder
	onPass   func(*Report)
	clock    func() time.Time
	limiter  *rate.Limiter

	// passMu serializes passes; a pass holds it from list to commit.
	passMu sync.Mutex

	mu      sync.Mutex
	prev    time.Time
	last    *Report
	pending map[cluster.Ref]pendingScale
}

// pendingScale is a decision whose apply failed.
type pendingScale struct {
	decision schedule.Decision
	source   string
}

type Option func(*Loop)

func WithLogger(log logx.Logger) Option { return func(l *Loop) { l.log = log } }

// WithBus publishes scale.*, schedule.rejected and pass.done events.
func WithBus(bus eventbus.Bus) Option { return func(l *Loop) { l.bus = bus } }

func WithRecorder(r Recorder) Option { return func(l *Loop) { l.recorder = r } }

// WithPassHook runs fn after every pass, committed or not.
func WithPassHook(fn func(*Report)) Option { return func(l *Loop) { l.onPass = fn } }

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.clock = now } }

func New(cfg Config, lister cluster.Lister, scaler cluster.Scaler, parser *schedule.Parser, opts ...Option) *Loop {
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:     cfg,
		lister:  lister,
		scaler:  scaler,
		clock:   time.Now,
		pending: map[cluster.Ref]pendingScale{},
	}
	if parser == nil {
		parser = schedule.NewParser(schedule.DefaultKeys(), nil, time.UTC)
	}
	l.parser.Store(parser)
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	if cfg.ApplyQPS < 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.ApplyQPS), cfg.ApplyBurst)
	}
	return l
}

func (l *Loop) Config() Config { return l.cfg }

// SetParser swaps the annotation parser (and with it the predefined registry)
// for subsequent passes. A pass already running keeps its parser.
func (l *Loop) SetParser(p *schedule.Parser) {
	if p != nil {
		l.parser.Store(p)
	}
}

func (l *Loop) Parser() *schedule.Parser { return l.parser.Load() }

// PreviousTick returns the last committed window end (zero before the first pass).
func (l *Loop) PreviousTick() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prev
}

// Pending returns the resources whose last scale failed and will be retried.
func (l *Loop) Pending() []cluster.Ref {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]cluster.Ref, 0, len(l.pending))
	for ref := range l.pending {
		out = append(out, ref)
	}
	return out
}

// LastReport returns a copy of the most recent report, if any.
func (l *Loop) LastReport() (Report, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}

// Run ticks every Interval until ctx is canceled. The first pass runs
// immediately.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("reconcile loop started",
		logx.Duration("interval", l.cfg.Interval),
		logx.Int("workers", l.cfg.Workers),
		logx.Bool("dry_run", l.cfg.DryRun),
	)
	t := time.NewTicker(l.cfg.Interval)
	defer t.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("reconcile loop stopped", logx.Time("previous_tick", l.PreviousTick()))
			return nil
		case <-t.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	rep, err := l.RunOnce(ctx, l.clock())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Error("pass failed", logx.String("window", rep.Window.String()), logx.Err(err))
		return
	}
	c := rep.Counts()
	l.log.Debug("pass done",
		logx.String("window", rep.Window.String()),
		logx.Int("resources", len(rep.Results)),
		logx.Int("scaled", c[StatusScaled]),
		logx.Int("dry_run", c[StatusDryRun]),
		logx.Int("errors", len(rep.Errors())),
		logx.Duration("took", rep.Took),
	)
}

// RunOnce evaluates the window (previousTick, now] over every listed resource.
//
// previousTick is committed to now only if the resource list succeeded, ctx
// was not canceled before every resource was handled, and now is after the
// committed previousTick. Per-resource failures are collected in the report
// and never fail the pass.
func (l *Loop) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	l.mu.Lock()
	committed := l.prev
	l.mu.Unlock()
	prev := committed
	if prev.IsZero() {
		// First pass: pick up a fire from the last interval before startup.
		prev = now.Add(-l.cfg.Interval)
	}

	w := schedule.Window{Prev: prev, Cur: now}
	parser := l.parser.Load()
	started := l.clock()
	rep := &Report{Window: w, StartedAt: started}

	lctx, cancel := context.WithTimeout(ctx, l.cfg.ListTimeout)
	resources, err := l.lister.List(lctx)
	cancel()
	if err != nil {
		rep.ListError = &ResourceError{Stage: StageList, Err: err}
		rep.Took = l.clock().Sub(started)
		l.finish(rep)
		return *rep, fmt.Errorf("list resources: %w", err)
	}

	rep.Results = make([]Result, len(resources))
	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for i := range resources {
		i := i
		g.Go(func() error {
			rep.Results[i] = l.evaluate(ctx, parser, w, resources[i])
			return nil
		})
	}
	_ = g.Wait()
	rep.Took = l.clock().Sub(started)

	if err := ctx.Err(); err != nil {
		// Shutdown mid-pass: keep previousTick so the window is evaluated again.
		l.finish(rep)
		return *rep, err
	}
	l.prunePending(resources)

	if !committed.IsZero() && !now.After(committed) {
		// The wall clock stepped back. The window is empty; wait for now to
		// pass previousTick again instead of re-opening fired instants.
		l.log.Warn("clock is behind previous tick; not committing",
			logx.Time("previous_tick", committed),
			logx.Time("now", now),
		)
		l.finish(rep)
		return *rep, nil
	}

	l.mu.Lock()
	l.prev = now
	l.mu.Unlock()
	rep.Committed = true
	l.finish(rep)
	return *rep, nil
}

func (l *Loop) finish(rep *Report) {
	l.mu.Lock()
	l.last = rep
	l.mu.Unlock()

	if l.recorder != nil {
		l.recorder.ObservePass(rep)
	}
	if l.bus != nil {
		c := rep.Counts()
		l.bus.Publish(eventbus.Event{Type: eventbus.TypePassDone, Data: eventbus.PassEvent{
			WindowStart: rep.Window.Prev,
			WindowEnd:   rep.Window.Cur,
			Resources:   len(rep.Results),
			Scaled:      c[StatusScaled],
			Failed:      c[StatusParseError] + c[StatusApplyError],
			Took:        rep.Took,
		}})
	}
	if l.onPass != nil {
		l.onPass(rep)
	}
}

// evaluate runs parse, decide and apply for one resource. It never panics the
// pass: every failure ends up in the Result.
func (l *Loop) evaluate(ctx context.Context, parser *schedule.Parser, w schedule.Window, r cluster.Resource) Result {
	res := Result{Ref: r.Ref, From: r.Replicas}
	log := l.log.With(logx.String("resource", r.Ref.String()))

	cfg, err := parser.Parse(r.Annotations)
	switch {
	case errors.Is(err, schedule.ErrNotScheduled):
		l.clearPending(r.Ref)
		res.Status = StatusNotScheduled
		return res
	case err != nil:
		l.clearPending(r.Ref)
		res.Status = StatusParseError
		res.Errors = append(res.Errors, &ResourceError{Ref: r.Ref, Stage: StageParse, Err: err})
		log.Warn("schedule annotation rejected; resource skipped", logx.Err(err))
		l.publishRejected(r.Ref, "", err)
		return res
	case cfg.Disabled:
		l.clearPending(r.Ref)
		res.Status = StatusDisabled
		log.Trace("schedule disabled")
		return res
	}
	res.Source = cfg.Source.String()

	d, entryErrs := schedule.Decide(cfg.Set, w, r.Annotations)
	for _, ee := range entryErrs {
		res.Errors = append(res.Errors, &ResourceError{Ref: r.Ref, Stage: StageResolve, Err: ee})
		log.Warn("schedule entry skipped", logx.Int("entry", ee.Index), logx.String("schedule", ee.Entry.Trigger.String()), logx.Err(ee.Err))
		l.publishRejected(r.Ref, res.Source, ee)
	}
	if d.Apply {
		l.clearPending(r.Ref)
	} else if p, ok := l.pendingFor(r.Ref, res.Source); ok {
		d = p.decision
		res.Retry = true
	}
	res.Decision = d
	if !d.Apply {
		res.Status = StatusNoChange
		return res
	}
	if d.Target == r.Replicas {
		l.clearPending(r.Ref)
		res.Status = StatusUpToDate
		log.Debug("already at target", logx.Int32("replicas", d.Target), logx.String("schedule", d.Entry.Trigger.String()))
		return res
	}

	fields := []logx.Field{
		logx.Int32("from", r.Replicas),
		logx.Int32("to", d.Target),
		logx.String("schedule", d.Entry.Trigger.String()),
		logx.String("source", res.Source),
		logx.Time("fired_at", d.FiredAt),
		logx.Bool("dry_run", l.cfg.DryRun),
	}
	if res.Retry {
		fields = append(fields, logx.Bool("retry", true))
	}
	if l.cfg.DryRun {
		res.Status = StatusDryRun
		log.Info("scale decision", fields...)
		l.publishScale(eventbus.TypeScaleDryRun, res, "")
		return res
	}

	if err := l.apply(ctx, r.Ref, d.Target); err != nil {
		res.Status = StatusApplyError
		res.Errors = append(res.Errors, &ResourceError{Ref: r.Ref, Stage: StageApply, Err: err})
		if ctx.Err() != nil {
			// shutting down; the uncommitted window is evaluated again on restart
			log.Debug("scale canceled", append(fields, logx.Err(err))...)
			return res
		}
		l.setPending(r.Ref, pendingScale{decision: d, source: res.Source})
		log.Error("scale failed; retrying next pass", append(fields, logx.Err(err))...)
		l.publishScale(eventbus.TypeScaleFailed, res, err.Error())
		return res
	}
	l.clearPending(r.Ref)
	res.Status = StatusScaled
	log.Info("scale decision", fields...)
	l.publishScale(eventbus.TypeScaleApplied, res, "")
	return res
}

// pendingFor returns the failed decision for ref if it came from the same
// schedule source.
func (l *Loop) pendingFor(ref cluster.Ref, source string) (pendingScale, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[ref]
	if !ok || p.source != source {
		return pendingScale{}, false
	}
	return p, true
}

func (l *Loop) setPending(ref cluster.Ref, p pendingScale) {
	l.mu.Lock()
	l.pending[ref] = p
	l.mu.Unlock()
}

func (l *Loop) clearPending(ref cluster.Ref) {
	l.mu.Lock()
	delete(l.pending, ref)
	l.mu.Unlock()
}

// prunePending drops retries for resources that are no longer listed.
func (l *Loop) prunePending(listed []cluster.Resource) {
	seen := make(map[cluster.Ref]struct{}, len(listed))
	for i := range listed {
		seen[listed[i].Ref] = struct{}{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for ref := range l.pending {
		if _, ok := seen[ref]; !ok {
			delete(l.pending, ref)
		}
	}
}

func (l *Loop) apply(ctx context.Context, ref cluster.Ref, replicas int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, l.cfg.ApplyTimeout)
	defer cancel()
	return l.scaler.Scale(actx, ref, replicas)
}

func (l *Loop) publishScale(typ string, res Result, errText string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.ScaleEvent{
		Kind:      res.Ref.Kind,
		Namespace: res.Ref.Namespace,
		Name:      res.Ref.Name,
		From:      res.From,
		To:        res.Decision.Target,
		Schedule:  res.Decision.Entry.Trigger.String(),
		Source:    res.Source,
		FiredAt:   res.Decision.FiredAt,
		DryRun:    l.cfg.DryRun,
		Error:     errText,
	}})
}

func (l *Loop) publishRejected(ref cluster.Ref, source string, err error) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleRejected, Data: eventbus.ScaleEvent{
		Kind:      ref.Kind,
		Namespace: ref.Namespace,
		Name:      ref.Name,
		Source:    source,
		Error:     err.Error(),
	}})
}
