package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	logx "postrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the crawler names whose schedule or routing changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.target_enabled", newCfg.Logging.Target.Enabled),
		)
	}

	// Storage changes need a restart; surface them without the redis password.
	oS, nS := oldCfg.Storage, newCfg.Storage
	if oS.Path != nS.Path || oS.BusyTimeout != nS.BusyTimeout ||
		oS.Delivery.Driver != nS.Delivery.Driver || oS.Delivery.Path != nS.Delivery.Path ||
		oS.Delivery.RedisAddr != nS.Delivery.RedisAddr || oS.Delivery.RedisDB != nS.Delivery.RedisDB {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.delivery_driver", strings.TrimSpace(nS.Delivery.Driver)),
			logx.Bool("storage.restart_required", true),
		)
	}

	oOps, nOps := oldCfg.Ops, newCfg.Ops
	oOps.Token, nOps.Token = tokenMarker(oOps.Token), tokenMarker(nOps.Token)
	if !reflect.DeepEqual(oOps, nOps) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
		)
	}

	if hashValue(targetsIdentity(oldCfg)) != hashValue(targetsIdentity(newCfg)) {
		changed = append(changed, "targets")
		attrs = append(attrs, logx.Int("targets.count", len(newCfg.Targets)))
	}

	routingChanged := hashValue(oldCfg.Connections) != hashValue(newCfg.Connections) ||
		hashValue(oldCfg.Formatters) != hashValue(newCfg.Formatters) ||
		hashValue(oldCfg.Forwarder) != hashValue(newCfg.Forwarder) ||
		hashValue(oldCfg.TargetDefaults) != hashValue(newCfg.TargetDefaults)
	if routingChanged {
		changed = append(changed, "routing")
		attrs = append(attrs,
			logx.Int("routing.formatters", len(newCfg.Formatters)),
			logx.Int("routing.crawler_edges", len(newCfg.Connections.CrawlerFormatter)+len(newCfg.Connections.ForwarderTarget)),
		)
	}

	crawlers := diffCrawlers(oldCfg.Crawlers, newCfg.Crawlers)
	if len(crawlers) > 0 {
		changed = append(changed, "crawlers")
		attrs = append(attrs, logx.Int("crawlers.changed_count", len(crawlers)))
	}

	if hashValue(oldCfg.Aggregations) != hashValue(newCfg.Aggregations) {
		changed = append(changed, "aggregations")
		attrs = append(attrs, logx.Int("aggregations.count", len(newCfg.Aggregations)))
	}
	if hashValue(processorsIdentity(oldCfg)) != hashValue(processorsIdentity(newCfg)) {
		changed = append(changed, "processors")
	}
	if !reflect.DeepEqual(oldCfg.Card, newCfg.Card) {
		changed = append(changed, "card")
	}
	if !reflect.DeepEqual(oldCfg.Media, newCfg.Media) {
		changed = append(changed, "media")
	}

	sort.Strings(changed)
	return changed, attrs, crawlers
}

func tokenMarker(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// targetsIdentity strips secrets so the comparison never needs them in logs.
func targetsIdentity(c *Config) []TargetConfig {
	out := make([]TargetConfig, 0, len(c.Targets))
	for _, t := range c.Targets {
		t.CfgPlatform.Token = tokenMarker(t.CfgPlatform.Token) + ":" + hexHash(t.CfgPlatform.Token)
		out = append(out, t)
	}
	return out
}

func processorsIdentity(c *Config) []ProcessorConfig {
	out := make([]ProcessorConfig, 0, len(c.Processors))
	for _, p := range c.Processors {
		p.APIKey = hexHash(p.APIKey)
		out = append(out, p)
	}
	return out
}

func hexHash(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("%016x", hashBytes([]byte(s)))
}

// diffCrawlers returns crawler names added, removed or modified.
func diffCrawlers(oldL, newL []CrawlerConfig) []string {
	oldM := make(map[string]uint64, len(oldL))
	for _, c := range oldL {
		oldM[c.Name] = hashValue(c)
	}
	newM := make(map[string]uint64, len(newL))
	for _, c := range newL {
		newM[c.Name] = hashValue(c)
	}

	out := make([]string, 0)
	for name, h := range newM {
		if oh, ok := oldM[name]; !ok || oh != h {
			out = append(out, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
