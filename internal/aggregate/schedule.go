package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

// Scheduler is the subset of the scheduler service the aggregator needs.
type Scheduler interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error
}

// Schedule describes one recurring digest.
type Schedule struct {
	ID        string
	Cron      string
	Window    time.Duration
	Platform  post.Platform
	UID       string
	TargetID  string
	Processor string
	Prompt    string
}

// SchedulesFromConfig converts aggregation config entries.
func SchedulesFromConfig(aggs []config.AggregationConfig) ([]Schedule, error) {
	out := make([]Schedule, 0, len(aggs))
	var errs []error
	for i, a := range aggs {
		path := fmt.Sprintf("aggregations[%d]", i)
		pl, ok := post.ParsePlatform(a.Platform)
		if !ok {
			errs = append(errs, fmt.Errorf("%s.platform: unsupported %q", path, a.Platform))
			continue
		}
		win, err := config.ParseDurationOrDefault(path+".window", a.Window, config.DefaultAggregationSpan)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cron := a.Cron
		if cron == "" {
			cron = config.DefaultAggregationCron
		}
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s", pl, a.UID)
		}
		out = append(out, Schedule{
			ID: id, Cron: cron, Window: win, Platform: pl, UID: a.UID,
			TargetID: a.Target, Processor: a.Processor, Prompt: a.Prompt,
		})
	}
	return out, errors.Join(errs...)
}

// Register adds the minute poller and one enqueue trigger per schedule.
func (a *Aggregator) Register(s Scheduler, schedules []Schedule) error {
	if err := s.AddSchedule("aggregate.poll", PollSchedule, 0, a.Poll); err != nil {
		return fmt.Errorf("aggregate poller: %w", err)
	}
	for _, sc := range schedules {
		if err := s.AddSchedule("aggregate."+sc.ID, sc.Cron, 0, a.enqueueJob(sc)); err != nil {
			return fmt.Errorf("aggregation %s: %w", sc.ID, err)
		}
	}
	return nil
}

func (a *Aggregator) enqueueJob(sc Schedule) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.EnqueueWindow(ctx, sc)
		return err
	}
}

// EnqueueWindow queues the digest of the window ending now, due immediately.
func (a *Aggregator) EnqueueWindow(ctx context.Context, sc Schedule) (int64, error) {
	end := a.now().Unix()
	p := Payload{
		Platform:  sc.Platform,
		UID:       sc.UID,
		Start:     end - int64(sc.Window/time.Second),
		End:       end,
		TargetID:  sc.TargetID,
		Processor: sc.Processor,
		Prompt:    sc.Prompt,
	}
	id, err := a.Enqueue(ctx, p, end)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", sc.ID, err)
	}
	a.log.Debug("aggregation queued", logx.String("aggregation", sc.ID), logx.Int64("task_id", id))
	return id, nil
}
