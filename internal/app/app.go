package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailwatch/internal/config"
	"tailwatch/internal/eventbus"
	"tailwatch/internal/inventory"
	"tailwatch/internal/monitor"
	"tailwatch/internal/observability/opsserver"
	"tailwatch/internal/pollloop"
	"tailwatch/internal/ratelimit"
	"tailwatch/internal/runtime/supervisor"
	"tailwatch/internal/storage"
	"tailwatch/internal/tenant"
	"tailwatch/internal/transport/discord"
	"tailwatch/internal/transport/router"
	logx "tailwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	history *eventbus.History
	store   storage.Store

	reg      *tenant.Registry
	limiter  *ratelimit.Limiter
	resolver *inventory.CachingResolver
	httpTr   *http.Transport
	client   *inventory.Client
	sched    *monitor.Scheduler
	loop     *pollloop.Loop
	router   *router.Router
	adapter  *discord.Adapter
	ops      *opsserver.Service

	started time.Time

	// tickCtx outlives the supervisor so Stop can let an in-flight tick
	// finish before cancelling it.
	mu         sync.Mutex
	tickCtx    context.Context
	tickCancel context.CancelFunc
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The channel sink stays disabled until the adapter exists; Apply below
	// turns it on once a sender is set.
	bootCfg := mapLogConfig(cfg)
	bootCfg.Channel.Enabled = false
	logSvc, log := logx.New(bootCfg)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg := tenant.NewRegistry(store, log.With(logx.String("comp", "tenants")))
	if err := reg.Load(ctx); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("load tenants: %w", err)
	}

	resolver, err := inventory.NewCachingResolver(mapResolverConfig(cfg), log.With(logx.String("comp", "dns")))
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	httpTr := resolver.Transport()

	client := inventory.NewClient(mapInventoryConfig(cfg), log.With(logx.String("comp", "inventory")),
		inventory.WithHTTPClient(&http.Client{Transport: httpTr}))

	limiter := ratelimit.New(mapRateLimitConfig(cfg))
	bus := eventbus.New()

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		history:  eventbus.NewHistory(100),
		store:    store,
		reg:      reg,
		limiter:  limiter,
		resolver: resolver,
		httpTr:   httpTr,
		client:   client,
		started:  time.Now(),
	}

	a.router = router.New(router.Config{
		Prefix:      cfg.Discord.CommandPrefix,
		Concurrency: int64(cfg.Discord.CommandConcurrency),
	}, log.With(logx.String("comp", "commands")))

	adapter, err := discord.New(mapDiscordConfig(cfg), a.router, limiter,
		log.With(logx.String("comp", "discord")),
		discord.WithTransport(httpTr),
		discord.WithReady(a.onReady),
	)
	if err != nil {
		resolver.Close()
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	a.adapter = adapter

	logSvc.SetSender(adapter)
	logSvc.Apply(mapLogConfig(cfg))

	a.sched = monitor.NewScheduler(mapSchedulerConfig(cfg), reg, client, adapter, limiter,
		log.With(logx.String("comp", "monitor")), monitor.WithBus(bus))

	interval := reg.FirstInterval()
	if len(reg.IDs()) == 0 {
		interval = defaultLoopInterval(cfg)
	}
	a.loop = pollloop.New(interval, a.tick, log.With(logx.String("comp", "pollloop")))

	NewCommands(CommandDeps{
		Registry: reg,
		Fetcher:  client,
		Loop:     loopControl{a},
		DNS:      resolver.Snapshot,
		HTTP:     &http.Client{Transport: httpTr, Timeout: 10 * time.Second},
		Reload:   reg.Reload,
		Started:  a.started,
	}, log.With(logx.String("comp", "commands"))).Register(a.router)

	a.ops = opsserver.New(mapOpsConfig(cfg), a.statusDoc, log.With(logx.String("comp", "ops")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.mu.Lock()
	a.tickCtx, a.tickCancel = context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Unlock()

	a.sup.Go0("dns.warm", func(c context.Context) {
		a.resolver.Warm(c, inventory.WarmHosts...)
	})

	a.sup.Go0("eventbus.log", func(c context.Context) {
		a.history.Record(c, a.bus, func(e eventbus.Event) {
			// Keep this debug-level; ticks publish on every cycle.
			a.log.Debug("event", logx.String("type", e.Type), logx.String("tenant", e.Tenant), logx.Time("time", e.Time))
		})
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if watchTenants(a.cfgm.Get()) {
		a.sup.Go("tenants.watch", func(c context.Context) error {
			return a.reg.Watch(c)
		})
	}

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.ops.Start(a.sup.Context()); err != nil {
		// The bot is useful without the ops surface.
		a.log.Warn("ops server not started", logx.Err(err))
	}

	a.log.Info("app started", logx.Int("tenants", len(a.reg.IDs())))
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
}

func (a *App) loopContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tickCtx == nil {
		return context.Background()
	}
	return a.tickCtx
}

func (a *App) tick(ctx context.Context, id string) {
	start := time.Now()
	results := a.sched.RunTick(ctx)
	var sent, failed, skipped int
	for _, r := range results {
		sent += r.Sent
		if r.Err != nil {
			failed++
		}
		if r.Skipped != "" {
			skipped++
		}
	}
	a.log.Debug("tick done",
		logx.String("tick", id),
		logx.Int("tenants", len(results)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Int("skipped", skipped),
		logx.Duration("took", time.Since(start)),
	)
}

// onReady runs on every gateway (re)connect.
func (a *App) onReady(ctx context.Context, guildIDs []string) {
	if err := a.adapter.SetWatching(ctx, presenceText); err != nil {
		a.log.Warn("set presence failed", logx.Err(err))
	}

	if a.reg.AnyActive() && !a.loop.Running() {
		a.loop.SetInterval(a.reg.FirstInterval())
		if a.loop.Start(a.loopContext()) {
			a.log.Info("monitoring auto-started", logx.Duration("interval", a.loop.Interval()))
		}
	}

	// Announce outside the gateway event goroutine.
	a.sup.Go0("ready.announce", func(c context.Context) {
		for _, gid := range guildIDs {
			a.announceRestart(c, gid)
		}
	})
}

func (a *App) announceRestart(ctx context.Context, guildID string) {
	t, ok := a.reg.Get(guildID)
	if !ok || !t.Configured() {
		return
	}
	log := a.log.With(logx.String("tenant", guildID))
	dest, err := a.adapter.ResolveDestination(ctx, guildID, t.Destination.String())
	if err != nil {
		log.Warn("no channel for restart notice", logx.Err(err))
		return
	}
	if err := a.limiter.Acquire(ctx); err != nil {
		return
	}
	if err := a.adapter.Send(ctx, dest, msgRestarted); err != nil {
		log.Warn("restart notice failed", logx.String("channel", dest), logx.Err(err))
	}
}

func (a *App) statusDoc(context.Context) any {
	doc := map[string]any{
		"started":         a.started,
		"uptime":          time.Since(a.started).Round(time.Second).String(),
		"tenants":         len(a.reg.IDs()),
		"active":          a.reg.AnyActive(),
		"loop_running":    a.loop.Running(),
		"loop_interval":   a.loop.Interval().String(),
		"last_tick":       a.loop.LastTick(),
		"skipped_ticks":   a.loop.Skipped(),
		"dns_cache":       a.resolver.Snapshot(),
		"sends_in_window": a.limiter.Recent(),
		"events_dropped":  a.bus.Dropped(),
		"recent_events":   a.history.Recent(),
	}
	if ra := a.limiter.RetryAfter(); !ra.IsZero() {
		doc["retry_after"] = ra
	}
	if a.sup != nil {
		doc["tasks"] = a.sup.Snapshot()
	}
	return doc
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The loop drains first: an in-flight tick gets its full budget before
	// anything it depends on goes away.
	step("pollloop", 10*time.Second, func(c context.Context) error {
		a.loop.Stop()
		err := a.loop.Wait(c)
		a.mu.Lock()
		if a.tickCancel != nil {
			a.tickCancel()
		}
		a.mu.Unlock()
		return err
	})

	a.sup.Cancel()

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("discord", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("states", time.Second, func(c context.Context) error { return a.reg.PersistStates(c) })
	step("resolver", time.Second, func(context.Context) error {
		a.httpTr.CloseIdleConnections()
		a.resolver.Close()
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, tenant watch, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// loopControl binds Start to the app lifetime instead of the caller's
// command context.
type loopControl struct{ a *App }

func (l loopControl) Start() bool {
	return l.a.loop.Start(l.a.loopContext())
}
func (l loopControl) Stop() bool                       { return l.a.loop.Stop() }
func (l loopControl) SetInterval(d time.Duration) bool { return l.a.loop.SetInterval(d) }
func (l loopControl) Running() bool                    { return l.a.loop.Running() }
func (l loopControl) Interval() time.Duration          { return l.a.loop.Interval() }
