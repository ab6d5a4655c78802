package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"postrelay/internal/post"
	"postrelay/internal/render"
	"postrelay/internal/routing"
	"postrelay/internal/storage"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// pair is one (post, target) candidate together with the path it came from.
type pair struct {
	path   *routing.Path
	target transport.Adapter
}

type batchStats struct {
	mu     sync.Mutex
	posts  int
	sent   int
	failed int
}

func (s *batchStats) add(sent, failed int) {
	s.mu.Lock()
	s.sent += sent
	s.failed += failed
	s.mu.Unlock()
}

// RunBatch delivers the newest posts of source to every resolved target.
// Individual post or target failures are logged and never abort the batch;
// the only error is an unknown source.
func (e *Engine) RunBatch(ctx context.Context, source string) error {
	res := e.Resolver()
	src, ok := res.Source(source)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	traceID := uuid.NewString()
	log := e.log.With(logx.String("source", source), logx.String("trace_id", traceID))

	paths := res.Resolve(source)
	if len(paths) == 0 {
		log.Debug("no delivery path; batch skipped")
		return nil
	}

	start := time.Now()
	var stats batchStats
	for _, uid := range src.UIDs {
		posts, err := e.posts.RecentPosts(ctx, src.Platform, uid, RecentWindow)
		if err != nil {
			log.Warn("recent posts read failed", logx.String("u_id", uid), logx.Err(err))
			continue
		}
		for _, p := range posts {
			stats.posts++
			e.dispatchPost(ctx, batchRun{source: source, traceID: traceID, log: log}, p, paths, &stats)
		}
	}

	dur := time.Since(start)
	e.metrics.batch(source, dur)
	log.Debug("batch finished", logx.Int("posts", stats.posts), logx.Int("sent", stats.sent), logx.Int("failed", stats.failed), logx.Duration("dur", dur))
	e.publish(EventBatchFinished, BatchEvent{Source: source, TraceID: traceID, Posts: stats.posts, Sent: stats.sent, Failed: stats.failed, Duration: dur})
	return nil
}

type batchRun struct {
	source  string
	traceID string
	log     logx.Logger
}

func (e *Engine) dispatchPost(ctx context.Context, run batchRun, p *post.Post, paths []routing.Path, stats *batchStats) {
	if p == nil {
		return
	}
	log := run.log.With(logx.String("post", p.Key()))
	now := e.now()

	// Step 1: targets without a record. A target reachable over several
	// paths is served by the first one.
	var pending []pair
	seen := map[string]bool{}
	for i := range paths {
		for _, t := range paths[i].Targets {
			if seen[t.ID()] {
				continue
			}
			seen[t.ID()] = true
			done, err := e.records.Exists(ctx, e.key(p, t))
			if err != nil {
				log.Warn("delivery record read failed", logx.String("target", t.ID()), logx.Err(err))
				continue
			}
			if !done {
				pending = append(pending, pair{path: &paths[i], target: t})
			}
		}
	}
	if len(pending) == 0 {
		return
	}

	// Step 2: every pending target blocked.
	bc := transport.BlockContext{PostTime: time.Unix(p.CreatedAt, 0), Now: now}
	var open []pair
	for _, pr := range pending {
		if !pr.target.CheckBlocked(bc) {
			open = append(open, pr)
		}
	}
	if len(open) == 0 {
		for _, pr := range pending {
			e.claimChain(ctx, log, p, pr.target)
			e.metrics.delivery(pr.target.ID(), OutcomeBlocked)
		}
		log.Debug("all targets blocked; post marked handled", logx.Int("targets", len(pending)))
		return
	}

	// Step 3: recheck, backfill, keywords.
	backfill := now.Sub(time.Unix(p.CreatedAt, 0)) > BackfillAge
	var survivors []pair
	for _, pr := range open {
		done, err := e.records.Exists(ctx, e.key(p, pr.target))
		if err != nil {
			log.Warn("delivery record read failed", logx.String("target", pr.target.ID()), logx.Err(err))
			continue
		}
		if done {
			continue
		}
		if backfill {
			e.claimChain(ctx, log, p, pr.target)
			e.metrics.delivery(pr.target.ID(), OutcomeBackfill)
			continue
		}
		if !matchKeywords(p.Content, pr.path.Config.Keywords) {
			e.claimChain(ctx, log, p, pr.target)
			e.metrics.delivery(pr.target.ID(), OutcomeFiltered)
			continue
		}
		survivors = append(survivors, pr)
	}
	if len(survivors) == 0 {
		return
	}

	// Step 4: render once per path, then fan out.
	payloads := map[*routing.Path]render.Result{}
	renderErr := map[*routing.Path]error{}
	for _, pr := range survivors {
		if _, ok := payloads[pr.path]; ok {
			continue
		}
		if _, ok := renderErr[pr.path]; ok {
			continue
		}
		out, err := e.renderer.Render(ctx, p, render.Options{TaskID: run.traceID, Mode: pr.path.Config.Mode, Media: pr.path.Config.Media})
		if err != nil {
			renderErr[pr.path] = err
			log.Warn("render failed", logx.String("formatter", pr.path.FormatterID), logx.Err(err))
			continue
		}
		payloads[pr.path] = out
	}
	// Step 6 runs whatever happens below.
	defer func() {
		for _, out := range payloads {
			e.renderer.Cleanup(out)
		}
	}()

	type outcome struct {
		target    transport.Adapter
		attempted bool
		ok        bool
	}
	results := make([]outcome, len(survivors))
	var g errgroup.Group
	for i, pr := range survivors {
		if err := renderErr[pr.path]; err != nil {
			results[i] = outcome{target: pr.target, attempted: true}
			e.metrics.delivery(pr.target.ID(), OutcomeFailed)
			continue
		}
		payload := payloads[pr.path]
		g.Go(func() error {
			attempted, ok := e.deliver(ctx, run, log, p, pr.target, payload)
			results[i] = outcome{target: pr.target, attempted: attempted, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	// Step 5: error counter.
	var attempted []transport.Adapter
	sent, failed := 0, 0
	for _, r := range results {
		if !r.attempted {
			continue
		}
		attempted = append(attempted, r.target)
		if r.ok {
			sent++
		} else {
			failed++
		}
	}
	stats.add(sent, failed)
	key := p.Key()
	switch {
	case len(attempted) == 0:
	case sent > 0:
		e.errors.Reset(key)
	default:
		n := e.errors.Inc(key)
		if n <= GiveUpAfter {
			log.Info("delivery failed on every target; will retry", logx.Int("failures", n))
			return
		}
		for _, t := range attempted {
			e.claimChain(ctx, log, p, t)
			e.metrics.delivery(t.ID(), OutcomeGivenUp)
			e.publish(EventGivenUp, DeliveryEvent{Source: run.source, Post: key, Target: t.ID(), TraceID: run.traceID})
		}
		e.errors.Reset(key)
		log.Warn("delivery given up", logx.Int("failures", n), logx.Int("targets", len(attempted)))
	}
}

// deliver claims the chain, sends and rolls the claim back on failure. It
// reports whether a send was attempted and whether it succeeded.
func (e *Engine) deliver(ctx context.Context, run batchRun, log logx.Logger, p *post.Post, t transport.Adapter, payload render.Result) (attempted, ok bool) {
	log = log.With(logx.String("target", t.ID()))
	if err := e.claimChainErr(ctx, p, t); err != nil {
		log.Warn("delivery claim failed; send skipped", logx.Err(err))
		return false, false
	}

	err := e.safeSend(ctx, t, payload.Text, transport.SendProps{Files: payload.Files, Timestamp: p.CreatedAt})
	if err == nil {
		e.metrics.delivery(t.ID(), OutcomeSent)
		log.Info("delivered")
		return true, true
	}

	log.Warn("send failed", logx.Err(err))
	e.metrics.delivery(t.ID(), OutcomeFailed)
	e.publish(EventDeliveryFailed, DeliveryEvent{Source: run.source, Post: p.Key(), Target: t.ID(), Error: err.Error(), TraceID: run.traceID})
	for _, node := range p.Chain() {
		if node.ID == 0 {
			continue
		}
		if uerr := e.records.Unclaim(ctx, e.key(node, t)); uerr != nil {
			log.Error("delivery unclaim failed", logx.Int64("post_id", node.ID), logx.Err(uerr))
		}
	}
	return true, false
}

func (e *Engine) safeSend(ctx context.Context, t transport.Adapter, text string, props transport.SendProps) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("send panic", logx.String("target", t.ID()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Send(ctx, text, props)
}

func (e *Engine) key(p *post.Post, t transport.Adapter) storage.DeliveryKey {
	return storage.DeliveryKey{PostID: p.ID, Platform: p.Platform, TargetID: t.ID(), Kind: storage.KindArticle}
}

// claimChain marks the post and every post it references as handled for t.
func (e *Engine) claimChain(ctx context.Context, log logx.Logger, p *post.Post, t transport.Adapter) {
	if err := e.claimChainErr(ctx, p, t); err != nil {
		log.Warn("delivery claim failed", logx.String("target", t.ID()), logx.Err(err))
	}
}

// claimChainErr claims every chain node for t. A failed claim rolls back the
// nodes claimed before it so the post stays eligible for the next batch.
func (e *Engine) claimChainErr(ctx context.Context, p *post.Post, t transport.Adapter) error {
	var claimed []storage.DeliveryKey
	for _, node := range p.Chain() {
		if node.ID == 0 {
			continue
		}
		k := e.key(node, t)
		if err := e.records.Claim(ctx, k); err != nil {
			err = fmt.Errorf("claim %d: %w", node.ID, err)
			for _, ck := range claimed {
				if uerr := e.records.Unclaim(ctx, ck); uerr != nil {
					err = errors.Join(err, fmt.Errorf("rollback %d: %w", ck.PostID, uerr))
				}
			}
			return err
		}
		claimed = append(claimed, k)
	}
	return nil
}

// matchKeywords reports whether content contains any keyword. An empty list
// matches everything.
func matchKeywords(content string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if k != "" && strings.Contains(content, k) {
			return true
		}
	}
	return false
}
