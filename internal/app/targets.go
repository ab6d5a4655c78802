package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/transport"
	"postrelay/internal/transport/onebot"
	"postrelay/internal/transport/telegram"
	logx "postrelay/pkg/logx"
)

// BuildTargets creates one adapter per distinct resolved target id.
func BuildTargets(cfg *config.Config, loc *time.Location, log logx.Logger) (*transport.Registry, error) {
	list, _ := cfg.ResolvedTargets()
	adapters := make([]transport.Adapter, 0, len(list))
	var errs []error
	for _, t := range list {
		a, err := buildTarget(t, loc, log.With(logx.String("target", t.ID)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		adapters = append(adapters, a)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return transport.NewRegistry(adapters...), nil
}

func buildTarget(t config.TargetConfig, loc *time.Location, log logx.Logger) (transport.Adapter, error) {
	p := t.CfgPlatform
	interval, err := config.ParseDurationField("target "+t.ID+" cfg_platform.min_interval", p.MinInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationField("target "+t.ID+" cfg_platform.timeout", p.Timeout)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(t.Platform) {
	case "qq", "onebot":
		return onebot.New(onebot.Config{
			ID:           t.ID,
			URL:          p.URL,
			GroupID:      p.GroupID,
			Token:        p.Token,
			MinInterval:  interval,
			Timeout:      timeout,
			BlockUntil:   p.BlockUntil,
			ReplaceRegex: p.ReplaceRegex,
			Location:     loc,
		}, log)
	case "telegram":
		return telegram.New(telegram.Config{
			ID:           t.ID,
			Token:        p.Token,
			ChatID:       p.ChatID,
			ThreadID:     p.ThreadID,
			MinInterval:  interval,
			Timeout:      timeout,
			BlockUntil:   p.BlockUntil,
			ReplaceRegex: p.ReplaceRegex,
			Location:     loc,
		}, log)
	default:
		return nil, fmt.Errorf("target %s: unsupported platform %q", t.ID, t.Platform)
	}
}
