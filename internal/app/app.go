// Package app wires configuration, the cluster client, the reconcile loop and
// its side sinks (audit log, notifications, status server) into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedscaler/internal/cluster"
	"schedscaler/internal/cluster/kube"
	"schedscaler/internal/config"
	"schedscaler/internal/eventbus"
	"schedscaler/internal/metrics"
	"schedscaler/internal/notifier"
	"schedscaler/internal/reconcile"
	"schedscaler/internal/runtime/supervisor"
	"schedscaler/internal/server"
	"schedscaler/internal/storage"
	logx "schedscaler/pkg/logx"
	"schedscaler/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	loop  *reconcile.Loop
	notif *notifier.Service
	srv   *server.Server

	sup       *supervisor.Supervisor
	readyOnce sync.Once
}

type options struct {
	dryRun bool
	lister cluster.Lister
	scaler cluster.Scaler
	sender notifier.Sender
}

type Option func(*options)

// WithDryRun forces dry-run regardless of the config file.
func WithDryRun(enabled bool) Option { return func(o *options) { o.dryRun = o.dryRun || enabled } }

// WithCluster replaces the Kubernetes client.
func WithCluster(l cluster.Lister, s cluster.Scaler) Option {
	return func(o *options) { o.lister, o.scaler = l, s }
}

// WithSender replaces the Telegram sender.
func WithSender(s notifier.Sender) Option { return func(o *options) { o.sender = s } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	parser, err := buildParser(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapReconcileConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg.DryRun = rcfg.DryRun || o.dryRun

	lister, scaler := o.lister, o.scaler
	if lister == nil || scaler == nil {
		kcfg, err := mapKubeConfig(cfg)
		if err != nil {
			return nil, err
		}
		client, err := kube.NewClientset(kcfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		kl, err := kube.NewLister(client, kcfg)
		if err != nil {
			return nil, err
		}
		lister, scaler = kl, kube.NewScaler(client)
		log.Info("kubernetes client ready",
			logx.Strings("namespaces", kcfg.Namespaces),
			logx.Strings("kinds", kcfg.Kinds),
			logx.String("selector", kcfg.LabelSelector),
		)
	}

	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit log enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		reg:   reg,
	}

	ncfg, tcfg, enabled, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	if enabled {
		sender := o.sender
		if sender == nil {
			tg, err := notifier.NewTelegram(tcfg)
			if err != nil {
				a.closeStore()
				return nil, fmt.Errorf("notifier: %w", err)
			}
			sender = tg
		}
		a.notif = notifier.New(ncfg, sender, store, log)
	}

	a.loop = reconcile.New(rcfg, lister, scaler, parser,
		reconcile.WithLogger(log.With(logx.String("comp", "reconcile"))),
		reconcile.WithBus(bus),
		reconcile.WithRecorder(rec),
		reconcile.WithPassHook(a.onPass),
	)

	if cfg.Status.Enabled {
		scfg, err := mapServerConfig(cfg)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.srv = server.New(scfg, a.loop, reg, log)
	}
	return a, nil
}

func (a *App) Loop() *reconcile.Loop { return a.loop }

// StatusAddr is the live status listener address, empty when disabled or not
// yet listening.
func (a *App) StatusAddr() string {
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal task error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional reload: a config whose schedules or mappings do not
	// build is never committed
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := buildParser(cfg); err != nil {
			return err
		}
		if _, err := mapReconcileConfig(cfg); err != nil {
			return err
		}
		if _, err := mapKubeConfig(cfg); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		_, _, _, err := mapNotifierConfig(cfg)
		return err
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("audit", func(c context.Context) error {
			defer unsub()
			return runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}
	if a.notif != nil && a.notif.Enabled() {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("notifier", func(c context.Context) error {
			defer unsub()
			return a.notif.Run(c, events)
		})
	}
	if a.srv != nil {
		a.sup.GoRestart("status.server", a.srv.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second), supervisor.WithMaxRestarts(5))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("reconcile", a.loop.Run)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.healthy, a.log.With(logx.String("comp", "systemd")))
	})

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Bool("dry_run", a.loop.Config().DryRun),
		logx.Int("predefined_schedules", a.loop.Parser().Registry().Len()),
	)
	return nil
}

// onPass is the reconcile pass hook. The first committed pass signals
// readiness to systemd.
func (a *App) onPass(rep *reconcile.Report) {
	if !rep.Committed {
		return
	}
	a.readyOnce.Do(func() {
		if sent, err := systemd.Ready(); err != nil {
			a.log.Warn("systemd ready notification failed", logx.Err(err))
		} else if sent {
			a.log.Debug("systemd notified ready")
		}
	})
	c := rep.Counts()
	_, _ = systemd.Status(fmt.Sprintf("last pass %s: %d resources, %d scaled, %d errors",
		rep.Window.Cur.Format(time.RFC3339), len(rep.Results), c[reconcile.StatusScaled], len(rep.Errors())))
}

// healthy gates watchdog pings: the loop must have finished a pass recently.
func (a *App) healthy() bool {
	rep, ok := a.loop.LastReport()
	if !ok {
		return true
	}
	cfg := a.loop.Config()
	return time.Since(rep.StartedAt) < 3*cfg.Interval+cfg.ListTimeout
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies what can change live: logging, timezone, annotation
// keys and predefined schedules. Other sections are reported as needing a
// restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if parser, err := buildParser(newCfg); err != nil {
		// the validator already built it once; keep the running parser
		a.log.Warn("schedules not applied; keeping previous", logx.Err(err))
	} else {
		a.loop.SetParser(parser)
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop cancels every task and shuts components down in order, each step
// bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.log.Info("stopping")
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// tasks first: the audit writer must be done before the store closes
	step("supervisor", 10*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if err := a.sup.Err(); err != nil {
		a.log.Error("stopped with error", logx.Err(err))
	} else {
		a.log.Info("stopped", logx.Time("previous_tick", a.loop.PreviousTick()))
	}
	_ = a.logs.Close()
	return a.sup.Err()
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
