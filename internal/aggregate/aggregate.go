// Package aggregate builds digests: queued aggregation tasks read an
// account's posts over a window, summarize them through a processor and send
// one report with a summary card to a single target.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"postrelay/internal/card"
	"postrelay/internal/media"
	"postrelay/internal/post"
	"postrelay/internal/processor"
	"postrelay/internal/storage"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// TaskDaily is the queue type of a daily digest.
const TaskDaily = "aggregate_daily"

const SummaryPrompt = "You are a summarizer. Please summarize the following social media posts from today for a daily report. Format it nicely."

// PollSchedule is how often due tasks are picked up.
const PollSchedule = "1m"

// Payload is the queued description of one digest.
type Payload struct {
	Platform  post.Platform `json:"platform"`
	UID       string        `json:"u_id"`
	Start     int64         `json:"start"`
	End       int64         `json:"end"`
	TargetID  string        `json:"bot_id"`
	Processor string        `json:"processor,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
}

type Posts interface {
	PostsInRange(ctx context.Context, platform post.Platform, uid string, start, end int64) ([]*post.Post, error)
}

type Targets interface {
	Get(id string) (transport.Adapter, bool)
}

type Processors interface {
	Get(id string) (processor.Processor, bool)
}

type Deps struct {
	Queue      storage.TaskQueue
	Posts      Posts
	Targets    Targets
	Processors Processors
	Cards      card.Renderer
	CardDir    string
	// Location formats post times in the digest body; nil means UTC.
	Location *time.Location
	Log      logx.Logger
	Now      func() time.Time
}

type Aggregator struct {
	queue      storage.TaskQueue
	posts      Posts
	targets    Targets
	processors Processors
	cards      card.Renderer
	cardDir    string
	loc        *time.Location
	log        logx.Logger
	now        func() time.Time
}

func New(d Deps) *Aggregator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Cards == nil {
		d.Cards = card.Disabled{}
	}
	return &Aggregator{
		queue:      d.Queue,
		posts:      d.Posts,
		targets:    d.Targets,
		processors: d.Processors,
		cards:      d.Cards,
		cardDir:    d.CardDir,
		loc:        d.Location,
		log:        d.Log,
		now:        d.Now,
	}
}

// Enqueue stores a digest task due at executeAt (epoch seconds).
func (a *Aggregator) Enqueue(ctx context.Context, p Payload, executeAt int64) (int64, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	return a.queue.AddTask(ctx, TaskDaily, raw, executeAt)
}

// Poll runs every due task once. A failing task is marked failed and never
// stops the rest.
func (a *Aggregator) Poll(ctx context.Context) error {
	tasks, err := a.queue.PendingTasks(ctx, a.now().Unix())
	if err != nil {
		return fmt.Errorf("pending tasks: %w", err)
	}
	if len(tasks) > 0 {
		a.log.Info("pending tasks found", logx.Int("count", len(tasks)))
	}
	for _, t := range tasks {
		log := a.log.With(logx.Int64("task_id", t.ID), logx.String("type", t.Type))
		if err := a.queue.SetTaskStatus(ctx, t.ID, storage.TaskProcessing); err != nil {
			log.Warn("task status update failed", logx.Err(err))
			continue
		}
		status := storage.TaskCompleted
		if err := a.run(ctx, t); err != nil {
			log.Error("task failed", logx.Err(err))
			status = storage.TaskFailed
		}
		if err := a.queue.SetTaskStatus(ctx, t.ID, status); err != nil {
			log.Warn("task status update failed", logx.Err(err))
		}
	}
	return nil
}

func (a *Aggregator) run(ctx context.Context, t storage.QueuedTask) error {
	switch t.Type {
	case TaskDaily:
		var p Payload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return a.Daily(ctx, p)
	default:
		a.log.Debug("unknown task type; marked completed", logx.String("type", t.Type))
		return nil
	}
}

// Daily builds and sends one digest.
func (a *Aggregator) Daily(ctx context.Context, p Payload) error {
	log := a.log.With(logx.String("u_id", p.UID), logx.String("platform", string(p.Platform)))
	log.Info("aggregating",
		logx.Time("start", time.Unix(p.Start, 0).In(a.loc)),
		logx.Time("end", time.Unix(p.End, 0).In(a.loc)),
	)

	target, ok := a.targets.Get(p.TargetID)
	if !ok {
		return fmt.Errorf("%w: %q", transport.ErrUnknownTarget, p.TargetID)
	}

	posts, err := a.posts.PostsInRange(ctx, p.Platform, p.UID, p.Start, p.End)
	if err != nil {
		return fmt.Errorf("posts in range: %w", err)
	}
	if len(posts) == 0 {
		log.Info("no posts in window; nothing to report")
		return nil
	}

	summary, err := a.summarize(ctx, p, Digest(posts, a.loc))
	if err != nil {
		log.Error("summarization failed", logx.Err(err))
		summary = Fallback(len(posts))
	}

	var files []transport.File
	if path, err := a.summaryCard(ctx, p, summary); err != nil {
		if !errors.Is(err, card.ErrDisabled) {
			log.Error("summary card failed", logx.Err(err))
		}
	} else {
		files = append(files, transport.File{Path: path, Type: post.MediaPhoto})
	}
	defer func() {
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		if err := media.Cleanup(paths); err != nil {
			log.Warn("summary card cleanup failed", logx.Err(err))
		}
	}()

	text := fmt.Sprintf("Daily Report for %s:\n\n%s", p.UID, summary)
	if err := target.Send(ctx, text, transport.SendProps{Files: files, Timestamp: a.now().Unix()}); err != nil {
		return fmt.Errorf("send to %s: %w", target.ID(), err)
	}
	log.Info("daily report sent", logx.String("target", target.ID()), logx.Int("posts", len(posts)))
	return nil
}

func (a *Aggregator) summarize(ctx context.Context, p Payload, text string) (string, error) {
	if a.processors == nil || p.Processor == "" {
		return "", errors.New("no processor configured")
	}
	proc, ok := a.processors.Get(p.Processor)
	if !ok {
		return "", fmt.Errorf("unknown processor %q", p.Processor)
	}
	prompt := p.Prompt
	if prompt == "" {
		prompt = SummaryPrompt
	}
	return processor.WithPrompt(proc, prompt).Process(ctx, text)
}

func (a *Aggregator) summaryCard(ctx context.Context, p Payload, summary string) (string, error) {
	synthetic := &post.Post{
		AID:       fmt.Sprintf("summary-%d-%d", p.Start, p.End),
		Platform:  p.Platform,
		UID:       p.UID,
		Username:  p.UID,
		CreatedAt: p.End,
		Content:   summary,
		URL:       fmt.Sprintf("https://%s.com", p.Platform),
	}
	img, err := a.cards.RenderCard(ctx, synthetic)
	if err != nil {
		return "", err
	}
	return card.WriteFile(a.cardDir, synthetic.AID+".png", img)
}

// Digest lists posts in the order given, one timestamped entry each.
func Digest(posts []*post.Post, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		content := p.Content
		if content == "" {
			content = "(No Text)"
		}
		ts := time.Unix(p.CreatedAt, 0).In(loc).Format(time.DateTime)
		lines = append(lines, fmt.Sprintf("[%s] %s\n", ts, content))
	}
	return strings.Join(lines, "\n")
}

// Fallback replaces the summary when the processor is unavailable.
func Fallback(count int) string {
	return fmt.Sprintf("Summarization failed. Raw content count: %d", count)
}
