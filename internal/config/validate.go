package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"postrelay/internal/post"
)

var supportedTargetPlatforms = map[string]struct{}{
	"qq":       {},
	"onebot":   {},
	"telegram": {},
}

// Validate checks structural problems that would make the config unusable.
// Dangling routing edges are not errors; the resolver drops them with a warning.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if te := c.TaskEngine; te != nil {
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			errs = append(errs, err)
		}
	}

	names := map[string]struct{}{}
	for i, cr := range c.Crawlers {
		path := fmt.Sprintf("crawlers[%d]", i)
		name := strings.TrimSpace(cr.Name)
		if name == "" {
			add("%s.name is required", path)
		} else if _, dup := names[name]; dup {
			add("%s.name %q is duplicated", path, name)
		}
		names[name] = struct{}{}
		if _, ok := post.ParsePlatform(cr.Platform); !ok {
			add("%s.platform %q is not supported", path, cr.Platform)
		}
		if len(cr.UIDs) == 0 {
			add("%s.u_ids must not be empty", path)
		}
		if _, err := ParseDurationField(path+".comparison_window", cr.ComparisonWindow); err != nil {
			errs = append(errs, err)
		}
	}

	formatters := map[string]struct{}{}
	for i, f := range c.Formatters {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			add("formatters[%d].id is required", i)
			continue
		}
		if _, dup := formatters[id]; dup {
			add("formatters[%d].id %q is duplicated", i, id)
		}
		formatters[id] = struct{}{}
	}

	for i, t := range c.Targets {
		path := fmt.Sprintf("targets[%d]", i)
		eff := t.Effective(c.TargetDefaults)
		if _, ok := supportedTargetPlatforms[eff.Platform]; !ok {
			add("%s.platform %q is not supported", path, t.Platform)
		}
		for j, rule := range eff.CfgPlatform.ReplaceRegex {
			if len(rule) != 1 && len(rule) != 2 {
				add("%s.cfg_platform.replace_regex[%d] must be [pattern] or [pattern, replacement]", path, j)
				continue
			}
			if _, err := regexp.Compile(rule[0]); err != nil {
				add("%s.cfg_platform.replace_regex[%d]: %v", path, j, err)
			}
		}
		if _, err := ParseDurationField(path+".cfg_platform.min_interval", eff.CfgPlatform.MinInterval); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField(path+".cfg_platform.timeout", eff.CfgPlatform.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	processors := map[string]struct{}{}
	for i, p := range c.Processors {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			add("processors[%d].id is required", i)
			continue
		}
		processors[id] = struct{}{}
		if _, err := ParseDurationField(fmt.Sprintf("processors[%d].timeout", i), p.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	for i, a := range c.Aggregations {
		path := fmt.Sprintf("aggregations[%d]", i)
		if _, ok := post.ParsePlatform(a.Platform); !ok {
			add("%s.platform %q is not supported", path, a.Platform)
		}
		if strings.TrimSpace(a.UID) == "" {
			add("%s.u_id is required", path)
		}
		if strings.TrimSpace(a.Target) == "" {
			add("%s.target is required", path)
		}
		if p := strings.TrimSpace(a.Processor); p != "" {
			if _, ok := processors[p]; !ok {
				add("%s.processor %q is not defined", path, p)
			}
		}
		if _, err := ParseDurationField(path+".window", a.Window); err != nil {
			errs = append(errs, err)
		}
	}

	for _, kv := range []struct{ path, raw string }{
		{"card.timeout", c.Card.Timeout},
		{"media.timeout", c.Media.Timeout},
		{"media.gallery_dl.timeout", c.Media.GalleryDL.Timeout},
		{"ops.read_timeout", c.Ops.ReadTimeout},
		{"ops.write_timeout", c.Ops.WriteTimeout},
		{"ops.idle_timeout", c.Ops.IdleTimeout},
	} {
		if _, err := ParseDurationField(kv.path, kv.raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
