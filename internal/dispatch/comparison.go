package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"postrelay/internal/post"
	"postrelay/internal/storage"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// RunComparison sends the follower deltas of every account of source to
// every target the source resolves to. Nothing is recorded; each run sends.
func (e *Engine) RunComparison(ctx context.Context, source string) error {
	res := e.Resolver()
	src, ok := res.Source(source)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	log := e.log.With(logx.String("source", source), logx.String("trace_id", uuid.NewString()))
	if e.follows == nil {
		log.Warn("follows store not configured; comparison skipped")
		return nil
	}

	targets := res.Targets(source)
	if len(targets) == 0 {
		log.Warn("no target resolved; comparison skipped")
		return nil
	}

	var pairs []post.FollowsPair
	for _, uid := range src.UIDs {
		pair, err := e.follows.LatestFollows(ctx, src.Platform, uid, src.Window)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn("follows read failed", logx.String("u_id", uid), logx.Err(err))
			continue
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		log.Debug("no follows snapshot; comparison skipped")
		return nil
	}

	text := post.FollowsText(src.Title, pairs)
	props := transport.SendProps{Timestamp: e.now().Unix()}
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			if err := e.safeSend(ctx, t, text, props); err != nil {
				log.Warn("comparison send failed", logx.String("target", t.ID()), logx.Err(err))
				e.metrics.delivery(t.ID(), OutcomeFailed)
				return nil
			}
			e.metrics.delivery(t.ID(), OutcomeSent)
			return nil
		})
	}
	_ = g.Wait()
	log.Info("comparison sent", logx.Int("accounts", len(pairs)), logx.Int("targets", len(targets)), logx.Duration("window", src.Window))
	return nil
}

