package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

const DefaultPhotoBatch = 10

// BaseOptions configures the shared adapter behavior.
type BaseOptions struct {
	ID       string
	Platform string

	// TextLimit is the maximum rune count of one physical text message.
	TextLimit int
	// PhotoBatch caps photos per physical message (default 10).
	PhotoBatch int
	// MinInterval spaces physical calls issued by this adapter.
	MinInterval time.Duration

	BlockUntil   string
	ReplaceRegex [][]string
	// Location evaluates daily block windows and dates (default UTC).
	Location *time.Location
}

// Base implements ID, Platform and CheckBlocked and plans physical
// messages. Concrete adapters embed it.
type Base struct {
	id       string
	platform string
	opts     BaseOptions

	block   BlockRule
	replace []ReplaceRule
	limiter *rate.Limiter

	Log logx.Logger
}

func NewBase(opts BaseOptions, log logx.Logger) (*Base, error) {
	if opts.PhotoBatch <= 0 {
		opts.PhotoBatch = DefaultPhotoBatch
	}
	block, err := ParseBlockRule(opts.BlockUntil, opts.Location)
	if err != nil {
		return nil, err
	}
	rules, err := CompileReplaceRules(opts.ReplaceRegex)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return &Base{
		id:       opts.ID,
		platform: opts.Platform,
		opts:     opts,
		block:    block,
		replace:  rules,
		limiter:  lim,
		Log:      log.With(logx.String("target", opts.ID), logx.String("platform", opts.Platform)),
	}, nil
}

func (b *Base) ID() string       { return b.id }
func (b *Base) Platform() string { return b.platform }

func (b *Base) CheckBlocked(bc BlockContext) bool {
	return b.block.Blocked(bc.PostTime)
}

// Wait blocks until the next physical call is allowed. Calls queue up
// rather than drop.
func (b *Base) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Message is one physical text+photos message.
type Message struct {
	Text   string
	Photos []File
}

// Plan is the ordered list of physical messages for one delivery. Videos go
// out after every message, together.
type Plan struct {
	Messages []Message
	Videos   []File
}

// Empty reports whether the plan has nothing to send.
func (p Plan) Empty() bool { return len(p.Messages) == 0 && len(p.Videos) == 0 }

// Plan applies replace rules, splits the text and pairs text chunk i with
// photo batch i. Files that are neither photos nor videos are dropped.
func (b *Base) Plan(text string, files []File) Plan {
	chunks := SplitText(ApplyReplaceRules(b.replace, text), b.opts.TextLimit)

	var photos []File
	var plan Plan
	for _, f := range files {
		switch f.Type {
		case post.MediaPhoto:
			photos = append(photos, f)
		case post.MediaVideo:
			plan.Videos = append(plan.Videos, f)
		default:
			b.Log.Debug("media type not deliverable; dropped", logx.String("path", f.Path), logx.String("type", string(f.Type)))
		}
	}
	batches := chunkFiles(photos, b.opts.PhotoBatch)

	for i := 0; i < max(len(chunks), len(batches)); i++ {
		var m Message
		if i < len(chunks) {
			m.Text = chunks[i]
		}
		if i < len(batches) {
			m.Photos = batches[i]
		}
		plan.Messages = append(plan.Messages, m)
	}
	return plan
}

func chunkFiles(files []File, size int) [][]File {
	if len(files) == 0 {
		return nil
	}
	out := make([][]File, 0, (len(files)+size-1)/size)
	for len(files) > size {
		out = append(out, files[:size:size])
		files = files[size:]
	}
	return append(out, files)
}
