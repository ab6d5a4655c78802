package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/routing"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// Routes prints the resolved delivery paths of one source, or of every
// routed source when name is empty.
func Routes(cfg *config.Config, name string, w io.Writer, log logx.Logger) error {
	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	targets, err := BuildTargets(cfg, loc, log)
	if err != nil {
		return err
	}
	defer func() { _ = targets.Close(context.Background()) }()

	res := routing.NewResolver(cfg, targets, log)
	names := res.Sources()
	if name = strings.TrimSpace(name); name != "" {
		if len(res.Resolve(name)) == 0 {
			return fmt.Errorf("source %q has no delivery path", name)
		}
		names = []string{name}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tCRON\tFORMATTER\tMODE\tTARGETS")
	for _, n := range names {
		src, _ := res.Source(n)
		for _, p := range res.Resolve(n) {
			mode := p.Config.Mode
			if mode == "" {
				mode = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				src.Name, src.Kind, src.Cron, p.FormatterID, mode, strings.Join(p.TargetIDs(), ","))
		}
	}
	return tw.Flush()
}

// Push sends one text message to a configured target.
func Push(ctx context.Context, cfg *config.Config, targetID, text string, log logx.Logger) error {
	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	targets, err := BuildTargets(cfg, loc, log)
	if err != nil {
		return err
	}
	defer func() { _ = targets.Close(context.Background()) }()

	a, ok := targets.Get(strings.TrimSpace(targetID))
	if !ok {
		return fmt.Errorf("%w: %s (known: %s)", transport.ErrUnknownTarget, targetID, strings.Join(targets.IDs(), ", "))
	}
	return a.Send(ctx, text, transport.SendProps{Timestamp: time.Now().Unix()})
}
