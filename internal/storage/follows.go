package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"postrelay/internal/post"
)

func (s *SQLite) SaveFollows(ctx context.Context, f post.Follows) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO crawler_follows(platform, u_id, username, followers, created_at) VALUES(?,?,?,?,?)`,
		string(f.Platform), f.UID, f.Username, f.Followers, f.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) LatestFollows(ctx context.Context, platform post.Platform, uid string, window time.Duration) (post.FollowsPair, error) {
	if s == nil || s.db == nil {
		return post.FollowsPair{}, ErrDisabled
	}
	latest, err := s.scanFollows(ctx,
		`WHERE platform = ? AND u_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		string(platform), uid)
	if err != nil {
		return post.FollowsPair{}, err
	}
	pair := post.FollowsPair{Latest: latest}

	cutoff := latest.CreatedAt - int64(window/time.Second)
	prior, err := s.scanFollows(ctx,
		`WHERE platform = ? AND u_id = ? AND created_at <= ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		string(platform), uid, cutoff)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return post.FollowsPair{}, err
	default:
		pair.Prior = &prior
	}
	return pair, nil
}

func (s *SQLite) scanFollows(ctx context.Context, tail string, args ...any) (post.Follows, error) {
	var (
		f        post.Follows
		platform string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, u_id, username, followers, created_at FROM crawler_follows `+tail, args...,
	).Scan(&f.ID, &platform, &f.UID, &f.Username, &f.Followers, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return post.Follows{}, ErrNotFound
	}
	if err != nil {
		return post.Follows{}, err
	}
	f.Platform = post.Platform(platform)
	return f, nil
}
