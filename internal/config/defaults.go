package config

import (
	"strings"
	"time"
)

const (
	DefaultForwarderCron    = "*/30 * * * *"
	DefaultMediaStorage     = "no-storage"
	DefaultMediaTool        = "default"
	DefaultComparisonWindow = 24 * time.Hour
	DefaultAggregationCron  = "0 0 * * *"
	DefaultAggregationSpan  = 24 * time.Hour
)

// ApplyDefaults fills omitted global values. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Forwarder.Cron) == "" {
		c.Forwarder.Cron = DefaultForwarderCron
	}
	if c.Forwarder.Media == nil {
		c.Forwarder.Media = &MediaToolConfig{Type: DefaultMediaStorage, Use: MediaToolUse{Tool: DefaultMediaTool}}
	}
	for i := range c.Crawlers {
		if strings.TrimSpace(c.Crawlers[i].TaskType) == "" {
			c.Crawlers[i].TaskType = TaskTypeArticle
		}
	}
	for i := range c.Aggregations {
		if strings.TrimSpace(c.Aggregations[i].Cron) == "" {
			c.Aggregations[i].Cron = DefaultAggregationCron
		}
	}
}

// MergeForwarder layers override on top of base. Zero fields in override
// keep the base value.
func MergeForwarder(base ForwarderConfig, override *ForwarderConfig) ForwarderConfig {
	out := base
	if override == nil {
		return out
	}
	if s := strings.TrimSpace(override.Cron); s != "" {
		out.Cron = s
	}
	if s := strings.TrimSpace(override.RenderType); s != "" {
		out.RenderType = s
	}
	if len(override.Keywords) > 0 {
		out.Keywords = append([]string(nil), override.Keywords...)
	}
	if override.Media != nil {
		m := *override.Media
		out.Media = &m
	}
	return out
}

// CrawlerForwarder returns the effective forwarder config of a crawler.
func (c *Config) CrawlerForwarder(cr CrawlerConfig) ForwarderConfig {
	return MergeForwarder(c.Forwarder, cr.Forwarder)
}

// FormatterByID finds a formatter definition.
func (c *Config) FormatterByID(id string) (FormatterConfig, bool) {
	id = strings.TrimSpace(id)
	for _, f := range c.Formatters {
		if f.ID == id {
			return f, true
		}
	}
	return FormatterConfig{}, false
}

// CrawlerByName finds a crawler (source) definition.
func (c *Config) CrawlerByName(name string) (CrawlerConfig, bool) {
	name = strings.TrimSpace(name)
	for _, cr := range c.Crawlers {
		if cr.Name == name {
			return cr, true
		}
	}
	return CrawlerConfig{}, false
}

// ProcessorByID finds a processor definition.
func (c *Config) ProcessorByID(id string) (ProcessorConfig, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Processors {
		if p.ID == id {
			return p, true
		}
	}
	return ProcessorConfig{}, false
}
