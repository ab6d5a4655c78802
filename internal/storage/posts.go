package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

// articleTables maps each platform to its table. X and Twitter share one.
var articleTables = map[post.Platform]string{
	post.PlatformX:         "twitter_article",
	post.PlatformTwitter:   "twitter_article",
	post.PlatformInstagram: "instagram_article",
	post.PlatformTikTok:    "tiktok_article",
	post.PlatformYouTube:   "youtube_article",
	post.PlatformBilibili:  "bilibili_article",
}

func tableFor(p post.Platform) (string, error) {
	t, ok := articleTables[p]
	if !ok {
		return "", fmt.Errorf("unsupported platform: %q", p)
	}
	return t, nil
}

const articleColumns = `id, a_id, u_id, username, created_at, content, url, has_media, media, extra, ref`

// SavePost stores p and its embedded chain. A post whose (platform, a_id)
// already exists is left untouched and the stored row is returned.
func (s *SQLite) SavePost(ctx context.Context, p *post.Post) (*post.Post, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if p == nil || p.AID == "" {
		return nil, errors.New("post a_id is required")
	}
	table, err := tableFor(p.Platform)
	if err != nil {
		return nil, err
	}

	// Children first so each parent can store its ref id.
	chain := p.Chain()
	var childID int64
	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		var ref any
		switch {
		case i < len(chain)-1:
			ref = childID
		default:
			ref, err = s.resolveRef(ctx, table, node.Ref)
			if err != nil {
				return nil, err
			}
		}
		id, err := s.insertArticle(ctx, table, node, ref)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", node.AID, err)
		}
		childID = id
	}
	return s.PostByID(ctx, p.Platform, childID)
}

func (s *SQLite) resolveRef(ctx context.Context, table string, r post.Ref) (any, error) {
	if id, ok := r.ID(); ok {
		return id, nil
	}
	aid, ok := r.AID()
	if !ok {
		return nil, nil
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE a_id = ?`, aid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (s *SQLite) insertArticle(ctx context.Context, table string, p *post.Post, ref any) (int64, error) {
	media, err := marshalNullable(p.Media, len(p.Media) > 0)
	if err != nil {
		return 0, err
	}
	extra, err := marshalNullable(p.Extra, p.Extra != nil)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+`(a_id, u_id, username, created_at, content, url, has_media, media, extra, ref)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(a_id) DO NOTHING`,
		p.AID, p.UID, p.Username, p.CreatedAt, nullStr(p.Content), p.URL, p.HasMedia, media, extra, ref,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE a_id = ?`, p.AID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func marshalNullable(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SQLite) PostByID(ctx context.Context, platform post.Platform, id int64) (*post.Post, error) {
	return s.loadChain(ctx, platform, `id = ?`, id)
}

func (s *SQLite) PostByAID(ctx context.Context, platform post.Platform, aid string) (*post.Post, error) {
	return s.loadChain(ctx, platform, `a_id = ?`, aid)
}

// RecentPosts returns the newest posts of an author, newest first.
func (s *SQLite) RecentPosts(ctx context.Context, platform post.Platform, uid string, limit int) ([]*post.Post, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.listChains(ctx, platform,
		`SELECT id FROM %s WHERE u_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, uid, limit)
}

// PostsInRange returns an author's posts with start <= created_at <= end,
// oldest first.
func (s *SQLite) PostsInRange(ctx context.Context, platform post.Platform, uid string, start, end int64) ([]*post.Post, error) {
	return s.listChains(ctx, platform,
		`SELECT id FROM %s WHERE u_id = ? AND created_at >= ? AND created_at <= ? ORDER BY created_at ASC, id ASC`,
		uid, start, end)
}

func (s *SQLite) listChains(ctx context.Context, platform post.Platform, query string, args ...any) ([]*post.Post, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	table, err := tableFor(platform)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(query, table), args...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*post.Post, 0, len(ids))
	for _, id := range ids {
		p, err := s.PostByID(ctx, platform, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// loadChain loads one row and follows its ref ids, up to MaxChainDepth.
func (s *SQLite) loadChain(ctx context.Context, platform post.Platform, where string, arg any) (*post.Post, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	table, err := tableFor(platform)
	if err != nil {
		return nil, err
	}
	root, refID, err := s.scanArticle(ctx, table, platform, where, arg)
	if err != nil {
		return nil, err
	}
	cur := root
	for depth := 1; refID > 0 && depth < post.MaxChainDepth; depth++ {
		next, nextRef, err := s.scanArticle(ctx, table, platform, `id = ?`, refID)
		if errors.Is(err, ErrNotFound) {
			cur.Ref = post.RefID(refID)
			break
		}
		if err != nil {
			return nil, err
		}
		cur.Ref = post.RefEmbedded(next)
		cur, refID = next, nextRef
	}
	return root, nil
}

func (s *SQLite) scanArticle(ctx context.Context, table string, platform post.Platform, where string, arg any) (*post.Post, int64, error) {
	var (
		p       post.Post
		content sql.NullString
		media   sql.NullString
		extra   sql.NullString
		ref     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM `+table+` WHERE `+where, arg).Scan(
		&p.ID, &p.AID, &p.UID, &p.Username, &p.CreatedAt, &content, &p.URL, &p.HasMedia, &media, &extra, &ref,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	p.Platform = platform
	p.Content = content.String
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &p.Media); err != nil {
			s.log.Warn("article media decode failed", logx.String("table", table), logx.Int64("id", p.ID), logx.Err(err))
		}
	}
	if extra.Valid && extra.String != "" {
		var ex post.Extra
		if err := json.Unmarshal([]byte(extra.String), &ex); err == nil {
			p.Extra = &ex
		}
	}
	return &p, ref.Int64, nil
}
