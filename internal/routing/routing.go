// Package routing expands a source (crawler) name into delivery paths using
// the crawler-formatter, formatter-target and forwarder-target edges.
package routing

import (
	"sort"
	"strings"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/post"
	"postrelay/internal/render"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// LegacyFormatterID names the path built from forwarder-target edges.
const LegacyFormatterID = "forwarder-target"

// TargetLookup resolves target ids to live adapters.
type TargetLookup interface {
	Get(id string) (transport.Adapter, bool)
}

type PathConfig struct {
	Mode     string
	Keywords []string
	Media    *render.MediaOptions
}

type Path struct {
	FormatterID   string
	FormatterName string
	Config        PathConfig
	Targets       []transport.Adapter
}

// TargetIDs lists the path's target ids in order.
func (p Path) TargetIDs() []string {
	out := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		out = append(out, t.ID())
	}
	return out
}

// Source is a crawler as the dispatch engine sees it.
type Source struct {
	Name     string
	Platform post.Platform
	UIDs     []string
	Kind     string
	Title    string
	Cron     string
	// Window is the follows comparison window.
	Window time.Duration
}

// Resolver is immutable; a config reload builds a new one.
type Resolver struct {
	sources map[string]Source
	paths   map[string][]Path
}

func NewResolver(cfg *config.Config, targets TargetLookup, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{sources: map[string]Source{}, paths: map[string][]Path{}}
	if cfg == nil {
		return r
	}
	conns := cfg.Connections
	for _, cr := range cfg.Crawlers {
		fw := cfg.CrawlerForwarder(cr)
		src := Source{
			Name:  cr.Name,
			UIDs:  append([]string(nil), cr.UIDs...),
			Kind:  cr.Kind(),
			Title: cr.TaskTitle,
			Cron:  fw.Cron,
		}
		src.Platform, _ = post.ParsePlatform(cr.Platform)
		src.Window, _ = config.ParseDurationOrDefault("comparison_window", cr.ComparisonWindow, config.DefaultComparisonWindow)
		r.sources[cr.Name] = src

		slog := log.With(logx.String("source", cr.Name))
		var paths []Path
		for _, fid := range dedupe(conns.CrawlerFormatter[cr.Name]) {
			f, ok := cfg.FormatterByID(fid)
			if !ok {
				slog.Warn("crawler-formatter edge points at unknown formatter; ignored", logx.String("formatter", fid))
				continue
			}
			merged := config.MergeForwarder(fw, &config.ForwarderConfig{RenderType: f.RenderType, Keywords: f.Keywords, Media: f.Media})
			ts := lookupTargets(conns.FormatterTarget[fid], targets, slog.With(logx.String("formatter", fid)))
			if len(ts) == 0 {
				continue
			}
			name := f.Name
			if name == "" {
				name = f.ID
			}
			paths = append(paths, Path{FormatterID: f.ID, FormatterName: name, Config: pathConfig(merged), Targets: ts})
		}
		if ids := conns.ForwarderTarget[cr.Name]; len(ids) > 0 {
			if ts := lookupTargets(ids, targets, slog.With(logx.String("formatter", LegacyFormatterID))); len(ts) > 0 {
				paths = append(paths, Path{FormatterID: LegacyFormatterID, FormatterName: LegacyFormatterID, Config: pathConfig(fw), Targets: ts})
			}
		}
		if len(paths) > 0 {
			r.paths[cr.Name] = paths
		}
	}
	for name := range conns.CrawlerFormatter {
		if _, ok := r.sources[name]; !ok {
			log.Warn("crawler-formatter edge from unknown crawler; ignored", logx.String("source", name))
		}
	}
	for name := range conns.ForwarderTarget {
		if _, ok := r.sources[name]; !ok {
			log.Warn("forwarder-target edge from unknown crawler; ignored", logx.String("source", name))
		}
	}
	return r
}

// Resolve returns the delivery paths of source. An empty result means the
// source has nothing to deliver to.
func (r *Resolver) Resolve(source string) []Path {
	if r == nil {
		return nil
	}
	return r.paths[strings.TrimSpace(source)]
}

// Targets returns every target reachable from source, each once.
func (r *Resolver) Targets(source string) []transport.Adapter {
	seen := map[string]bool{}
	var out []transport.Adapter
	for _, p := range r.Resolve(source) {
		for _, t := range p.Targets {
			if !seen[t.ID()] {
				seen[t.ID()] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func (r *Resolver) Source(name string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	s, ok := r.sources[strings.TrimSpace(name)]
	return s, ok
}

// Sources lists the sources with at least one path, sorted.
func (r *Resolver) Sources() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.paths))
	for name := range r.paths {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func pathConfig(fw config.ForwarderConfig) PathConfig {
	pc := PathConfig{Mode: fw.RenderType, Keywords: append([]string(nil), fw.Keywords...)}
	if fw.Media != nil {
		pc.Media = &render.MediaOptions{
			Tool:    fw.Media.Use.Tool,
			Storage: fw.Media.Type,
			Path:    fw.Media.Use.Path,
			Args:    append([]string(nil), fw.Media.Use.Args...),
		}
	}
	return pc
}

func lookupTargets(ids []string, targets TargetLookup, log logx.Logger) []transport.Adapter {
	var out []transport.Adapter
	for _, id := range dedupe(ids) {
		a, ok := targets.Get(id)
		if !ok {
			log.Warn("edge points at unknown target; dropped", logx.String("target", id))
			continue
		}
		out = append(out, a)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
