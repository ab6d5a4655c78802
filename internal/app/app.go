package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"postrelay/internal/aggregate"
	"postrelay/internal/card"
	"postrelay/internal/config"
	"postrelay/internal/dispatch"
	"postrelay/internal/eventbus"
	"postrelay/internal/media"
	"postrelay/internal/ops"
	"postrelay/internal/render"
	"postrelay/internal/routing"
	rtsup "postrelay/internal/runtime/supervisor"
	"postrelay/internal/storage"
	"postrelay/internal/task/engine"
	"postrelay/internal/task/scheduler"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

const (
	batchPrefix     = "batch:"
	aggregatePrefix = "aggregate."

	defaultMediaDir     = "./data/media"
	defaultCardDir      = "./data/cards"
	defaultGalleryDL    = "gallery-dl"
	defaultMediaTimeout = 30 * time.Second
	defaultToolTimeout  = 5 * time.Minute
	defaultCardTimeout  = 30 * time.Second
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	loc  *time.Location

	db      *storage.SQLite
	records storage.DeliveryStore
	targets *transport.Registry

	dispatch *dispatch.Engine
	agg      *aggregate.Aggregator

	engine *engine.Service
	sched  *scheduler.Service
	ops    *ops.Server
}

// LoadConfig reads, defaults and validates the config file without starting anything.
func LoadConfig(path string) (*config.Config, error) {
	cfgm := config.NewConfigManager(path)
	cfgm.SetValidator(validateConfig)
	return cfgm.Load()
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The target sink is attached after targets exist; Apply warns on a
	// missing sink, so bootstrap with target logging off.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Target.Enabled = false
	logSvc, log := logx.New(bootCfg)
	log = log.With(logx.String("comp", "app"))

	// Every failure past this point must release what was already opened.
	var cleanup []func()
	fail := func(err error) (*App, error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		_ = logSvc.Close()
		return nil, err
	}

	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fail(err)
	}

	targets, err := BuildTargets(cfg, loc, log.With(logx.String("comp", "transport")))
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { _ = targets.Close(context.Background()) })
	attachLogSink(logSvc, targets, cfg)
	logSvc.Apply(logCfg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	db, records, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { _ = records.Close(); _ = db.Close() })
	log.Info("storage opened", logx.String("path", sc.Path), logx.String("delivery", sc.Delivery.Driver))

	renderer, cards, cardDir, err := buildRenderer(cfg, log)
	if err != nil {
		return fail(err)
	}
	procs, err := buildProcessors(cfg)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	disp := dispatch.New(dispatch.Deps{
		Resolver: routing.NewResolver(cfg, targets, log.With(logx.String("comp", "routing"))),
		Posts:    db,
		Records:  records,
		Follows:  db,
		Renderer: renderer,
		Metrics:  dispatch.NewMetrics(reg),
		Bus:      bus,
		Log:      log.With(logx.String("comp", "dispatch")),
	})

	agg := aggregate.New(aggregate.Deps{
		Queue:      db,
		Posts:      db,
		Targets:    targets,
		Processors: procs,
		Cards:      cards,
		CardDir:    cardDir,
		Location:   loc,
		Log:        log.With(logx.String("comp", "aggregate")),
	})

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, engineSvc, log.With(logx.String("comp", "scheduler")))

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return fail(err)
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		reg:      reg,
		loc:      loc,
		db:       db,
		records:  records,
		targets:  targets,
		dispatch: disp,
		agg:      agg,
		engine:   engineSvc,
		sched:    schedSvc,
		ops:      ops.New(opsCfg, reg, log),
	}, nil
}

func buildRenderer(cfg *config.Config, log logx.Logger) (*render.Renderer, card.Renderer, string, error) {
	mediaDir := strings.TrimSpace(cfg.Media.CacheDir)
	if mediaDir == "" {
		mediaDir = defaultMediaDir
	}
	dlTimeout, err := config.ParseDurationOrDefault("media.timeout", cfg.Media.Timeout, defaultMediaTimeout)
	if err != nil {
		return nil, nil, "", err
	}
	gdl := cfg.Media.GalleryDL
	bin := strings.TrimSpace(gdl.Path)
	if bin == "" {
		bin = defaultGalleryDL
	}
	toolTimeout, err := config.ParseDurationOrDefault("media.gallery_dl.timeout", gdl.Timeout, defaultToolTimeout)
	if err != nil {
		return nil, nil, "", err
	}
	cardTimeout, err := config.ParseDurationOrDefault("card.timeout", cfg.Card.Timeout, defaultCardTimeout)
	if err != nil {
		return nil, nil, "", err
	}
	cardDir := strings.TrimSpace(cfg.Card.Dir)
	if cardDir == "" {
		cardDir = defaultCardDir
	}

	mlog := log.With(logx.String("comp", "media"))
	cards := card.New(cfg.Card.URL, cardTimeout)
	if _, off := cards.(card.Disabled); off {
		log.Info("card service not configured; image modes fall back to text")
	}
	r := render.New(
		media.NewHTTPDownloader(mediaDir, dlTimeout, mlog),
		media.NewGalleryDL(bin, gdl.Args, toolTimeout, mediaDir, mlog),
		cards,
		cardDir,
		log.With(logx.String("comp", "render")),
	)
	return r, cards, cardDir, nil
}

// attachLogSink points target logging at the configured adapter, or detaches it.
func attachLogSink(logs *logx.Service, targets *transport.Registry, cfg *config.Config) {
	t := cfg.Logging.Target
	if !t.Enabled {
		logs.SetSink(nil)
		return
	}
	a, ok := targets.Get(strings.TrimSpace(t.TargetID))
	if !ok {
		logs.SetSink(nil)
		return
	}
	logs.SetSink(transport.LogSink{Adapter: a})
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

// Registry exposes the metrics registry served by the ops server.
func (a *App) Registry() *prometheus.Registry { return a.reg }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.registerBatches(cfg); err != nil {
		return err
	}
	if err := a.registerAggregations(cfg); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; no batches will run")
	}
	if err := a.ops.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level; batches fire every few minutes per source.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("targets", a.targets.Len()),
		logx.Int("sources", len(a.dispatch.Resolver().Sources())),
	)
	return nil
}

// restartSections cannot be applied to running components.
var restartSections = map[string]struct{}{
	"storage":     {},
	"targets":     {},
	"processors":  {},
	"card":        {},
	"media":       {},
	"task_engine": {},
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, crawlers := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(crawlers) > 0 {
		a.log.Debug("crawler changes detected", logx.Any("crawlers", crawlers))
	}

	var restart []string
	for _, s := range sections {
		if _, ok := restartSections[s]; ok {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	attachLogSink(a.logs, a.targets, newCfg)
	a.logs.Apply(mapLoggingConfig(newCfg))

	if opsCfg, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.ops.Reconfigure(ctx, opsCfg); err != nil {
		a.log.Warn("ops reconfigure failed", logx.Err(err))
	}

	a.dispatch.SetResolver(routing.NewResolver(newCfg, a.targets, a.log.With(logx.String("comp", "routing"))))
	if err := a.registerBatches(newCfg); err != nil {
		a.log.Warn("batch schedules update failed", logx.Err(err))
	}
	if err := a.registerAggregations(newCfg); err != nil {
		a.log.Warn("aggregation schedules update failed", logx.Err(err))
	}

	prevSched := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{Enabled: newCfg.Scheduler.Enabled, Timezone: newCfg.Scheduler.Timezone})
	switch {
	case prevSched && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevSched && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		if !a.engine.Enabled() {
			a.log.Warn("task engine disabled; scheduled batches will not run until restart")
		}
		a.sched.Start(ctx)
	}

	a.log.Info("config reloaded", fields...)
}

// registerBatches adds one trigger per routed source and drops triggers of
// sources that no longer route anywhere.
func (a *App) registerBatches(cfg *config.Config) error {
	res := a.dispatch.Resolver()
	want := map[string]struct{}{}
	var errs []error
	for _, name := range res.Sources() {
		src, ok := res.Source(name)
		if !ok {
			continue
		}
		key := batchPrefix + name
		want[key] = struct{}{}
		err := a.sched.AddSchedule(key, src.Cron, 0, func(c context.Context) error {
			err := a.dispatch.Run(c, name)
			if errors.Is(err, dispatch.ErrUnknownSource) {
				return engine.NoRetry(err)
			}
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", name, err))
		}
	}
	a.pruneSchedules(batchPrefix, want)
	if len(want) == 0 && len(cfg.Crawlers) > 0 {
		a.log.Warn("no crawler has a delivery path; check connections")
	}
	return errors.Join(errs...)
}

func (a *App) registerAggregations(cfg *config.Config) error {
	schedules, err := aggregate.SchedulesFromConfig(cfg.Aggregations)
	if err != nil {
		return err
	}
	want := map[string]struct{}{aggregatePrefix + "poll": {}}
	for _, sc := range schedules {
		want[aggregatePrefix+sc.ID] = struct{}{}
	}
	if err := a.agg.Register(a.sched, schedules); err != nil {
		return err
	}
	a.pruneSchedules(aggregatePrefix, want)
	return nil
}

func (a *App) pruneSchedules(prefix string, keep map[string]struct{}) {
	for _, name := range a.sched.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := keep[name]; !ok {
			a.sched.Remove(name)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step(ctx, a.log, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Running batches are never canceled; the engine waits for them.
	step(ctx, a.log, "taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step(ctx, a.log, "ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step(ctx, a.log, "targets", 2*time.Second, func(c context.Context) error { return a.targets.Close(c) })
	step(ctx, a.log, "storage", 1*time.Second, func(context.Context) error {
		return errors.Join(a.records.Close(), a.db.Close())
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step(ctx, a.log, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func step(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
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
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
