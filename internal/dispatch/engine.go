// Package dispatch runs delivery batches: it pairs the newest stored posts of
// a source with the targets its routes resolve to and delivers each pair at
// most once, using delivery records as the idempotency authority.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/eventbus"
	"postrelay/internal/post"
	"postrelay/internal/render"
	"postrelay/internal/routing"
	"postrelay/internal/storage"
	logx "postrelay/pkg/logx"
)

const (
	// RecentWindow is how many of the newest posts per account a batch looks at.
	RecentWindow = 10
	// BackfillAge marks posts older than this as handled without sending.
	BackfillAge = 2 * time.Hour
	// GiveUpAfter is the number of all-failed attempts tolerated per post.
	GiveUpAfter = 3
)

// ErrUnknownSource is returned by Run for a source missing from the routing snapshot.
var ErrUnknownSource = errors.New("unknown source")

// Posts reads the newest stored posts of one account, reference chains attached.
type Posts interface {
	RecentPosts(ctx context.Context, platform post.Platform, uid string, limit int) ([]*post.Post, error)
}

// Records is the delivery record store; Claim is idempotent.
type Records interface {
	Exists(ctx context.Context, k storage.DeliveryKey) (bool, error)
	Claim(ctx context.Context, k storage.DeliveryKey) error
	Unclaim(ctx context.Context, k storage.DeliveryKey) error
}

// Follows reads the latest follower snapshot and its comparison point.
type Follows interface {
	LatestFollows(ctx context.Context, platform post.Platform, uid string, window time.Duration) (post.FollowsPair, error)
}

// Renderer turns a post into a payload; Cleanup removes its temporary files.
type Renderer interface {
	Render(ctx context.Context, p *post.Post, opt render.Options) (render.Result, error)
	Cleanup(res render.Result)
}

type Deps struct {
	Resolver *routing.Resolver
	Posts    Posts
	Records  Records
	Follows  Follows
	Renderer Renderer
	Metrics  *Metrics
	Bus      eventbus.Bus
	Log      logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the routing snapshot and the per-post error counter for the
// process lifetime.
type Engine struct {
	resolver atomic.Pointer[routing.Resolver]

	posts    Posts
	records  Records
	follows  Follows
	renderer Renderer
	metrics  *Metrics
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	errors *ErrorCounter
}

func New(d Deps) *Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	e := &Engine{
		posts:    d.Posts,
		records:  d.Records,
		follows:  d.Follows,
		renderer: d.Renderer,
		metrics:  d.Metrics,
		bus:      d.Bus,
		log:      d.Log,
		now:      d.Now,
		errors:   NewErrorCounter(),
	}
	e.SetResolver(d.Resolver)
	return e
}

// SetResolver swaps the routing snapshot. Batches already running keep the
// resolver they started with.
func (e *Engine) SetResolver(r *routing.Resolver) {
	if r == nil {
		r = routing.NewResolver(nil, nil, e.log)
	}
	e.resolver.Store(r)
}

func (e *Engine) Resolver() *routing.Resolver { return e.resolver.Load() }

// ErrorCount reports the consecutive all-failed attempts of a post key.
func (e *Engine) ErrorCount(key string) int { return e.errors.Get(key) }

// Run executes the task kind configured for source.
func (e *Engine) Run(ctx context.Context, source string) error {
	src, ok := e.Resolver().Source(source)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if src.Kind == config.TaskTypeFollows {
		return e.RunComparison(ctx, source)
	}
	return e.RunBatch(ctx, source)
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
