package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postrelay/internal/aggregate"
	"postrelay/internal/config"
	"postrelay/internal/ops"
	"postrelay/internal/processor"
	"postrelay/internal/render"
	"postrelay/internal/task/engine"
	"postrelay/internal/task/scheduler"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Target: logx.TargetConfig{
			Enabled:    l.Target.Enabled,
			TargetID:   l.Target.TargetID,
			MinLevel:   l.Target.MinLevel,
			RatePerSec: l.Target.RatePerSec,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	out := engine.Config{}
	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		// Safety: avoid a config where scheduler triggers run but engine is explicitly disabled.
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
		}
		out.Workers, out.QueueSize, out.HistorySize, out.RetryMax = te.Workers, te.QueueSize, te.HistorySize, te.RetryMax
		var err error
		if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return engine.Config{}, err
		}
		if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return engine.Config{}, err
		}
	}
	out.Enabled = enabled
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// profile/trace endpoints stream for up to 30s by default
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func buildProcessors(cfg *config.Config) (*processor.Registry, error) {
	reg := processor.NewRegistry()
	var errs []error
	for i, p := range cfg.Processors {
		timeout, err := config.ParseDurationField(fmt.Sprintf("processors[%d].timeout", i), p.Timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		proc, err := processor.New(processor.Config{
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Prompt:   p.Prompt,
			Timeout:  timeout,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("processors[%d]: %w", i, err))
			continue
		}
		reg.Add(strings.TrimSpace(p.ID), proc)
	}
	return reg, errors.Join(errs...)
}

// validateConfig runs the checks that need packages the config package
// cannot import. It backs both startup and hot reload.
func validateConfig(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		errs = append(errs, err)
		loc = time.UTC
	}

	if err := scheduler.ValidateSpec(cfg.Forwarder.Cron); err != nil {
		errs = append(errs, fmt.Errorf("forwarder.cron: %w", err))
	}
	checkMedia := func(path string, m *config.MediaToolConfig) {
		if m == nil {
			return
		}
		switch strings.TrimSpace(m.Use.Tool) {
		case "", render.ToolDefault, render.ToolGalleryDL:
		default:
			errs = append(errs, fmt.Errorf("%s.media.use.tool: unsupported %q", path, m.Use.Tool))
		}
	}
	checkMedia("forwarder", cfg.Forwarder.Media)
	for i, cr := range cfg.Crawlers {
		path := fmt.Sprintf("crawlers[%d].cfg_forwarder", i)
		if err := scheduler.ValidateSpec(cfg.CrawlerForwarder(cr).Cron); err != nil {
			errs = append(errs, fmt.Errorf("%s.cron: %w", path, err))
		}
		if cr.Forwarder != nil {
			checkMedia(path, cr.Forwarder.Media)
		}
	}
	for i, f := range cfg.Formatters {
		checkMedia(fmt.Sprintf("formatters[%d]", i), f.Media)
	}

	targets, _ := cfg.ResolvedTargets()
	for _, t := range targets {
		if _, err := transport.ParseBlockRule(t.CfgPlatform.BlockUntil, loc); err != nil {
			errs = append(errs, fmt.Errorf("target %s cfg_platform.block_until: %w", t.ID, err))
		}
	}
	if t := cfg.Logging.Target; t.Enabled {
		if _, ok := findTarget(targets, t.TargetID); !ok {
			errs = append(errs, fmt.Errorf("logging.target.target_id %q is not a configured target", t.TargetID))
		}
	}

	if _, err := buildProcessors(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := aggregate.SchedulesFromConfig(cfg.Aggregations); err != nil {
		errs = append(errs, err)
	}
	for i, a := range cfg.Aggregations {
		if err := scheduler.ValidateSpec(a.Cron); err != nil {
			errs = append(errs, fmt.Errorf("aggregations[%d].cron: %w", i, err))
		}
		if _, ok := findTarget(targets, a.Target); !ok {
			errs = append(errs, fmt.Errorf("aggregations[%d].target %q is not a configured target", i, a.Target))
		}
	}
	return errors.Join(errs...)
}

func findTarget(list []config.TargetConfig, id string) (config.TargetConfig, bool) {
	id = strings.TrimSpace(id)
	for _, t := range list {
		if t.ID == id {
			return t, true
		}
	}
	return config.TargetConfig{}, false
}
