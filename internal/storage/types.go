package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postrelay/internal/post"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Posts, follows and the task queue always live in SQLite at Path.
// Delivery records default to the same database; Delivery.Driver selects
// an alternative backend:
//   - "sqlite" (default): forward_by table next to the posts
//   - "file": dependency-free journal + snapshot
//   - "redis": SETNX keys on a Redis server
type Config struct {
	Path        string
	BusyTimeout time.Duration

	Delivery DeliveryConfig
}

type DeliveryConfig struct {
	Driver string
	Path   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Task kinds for delivery records.
const (
	KindArticle = "article"
	KindFollows = "follows"
)

// DeliveryKey identifies one delivery record. Platform is the platform of
// the delivered post, not of the target.
type DeliveryKey struct {
	PostID   int64
	Platform post.Platform
	TargetID string
	Kind     string
}

func (k DeliveryKey) String() string {
	return fmt.Sprintf("%d:%s:%s:%s", k.PostID, k.Platform, k.TargetID, k.Kind)
}

// PostStore is the read/write API over stored posts. Returned posts carry
// their full reference chain as embedded refs.
type PostStore interface {
	SavePost(ctx context.Context, p *post.Post) (*post.Post, error)
	PostByID(ctx context.Context, platform post.Platform, id int64) (*post.Post, error)
	PostByAID(ctx context.Context, platform post.Platform, aid string) (*post.Post, error)
	RecentPosts(ctx context.Context, platform post.Platform, uid string, limit int) ([]*post.Post, error)
	PostsInRange(ctx context.Context, platform post.Platform, uid string, start, end int64) ([]*post.Post, error)
}

// DeliveryStore holds idempotency markers. Claim of an existing key is a
// no-op and never an error.
type DeliveryStore interface {
	Exists(ctx context.Context, k DeliveryKey) (bool, error)
	Claim(ctx context.Context, k DeliveryKey) error
	Unclaim(ctx context.Context, k DeliveryKey) error
	Close() error
}

type FollowStore interface {
	SaveFollows(ctx context.Context, f post.Follows) (int64, error)
	// LatestFollows returns the newest snapshot and the newest one at least
	// window older. It returns ErrNotFound when the account has no snapshot.
	LatestFollows(ctx context.Context, platform post.Platform, uid string, window time.Duration) (post.FollowsPair, error)
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// QueuedTask is one row of the deferred task queue.
type QueuedTask struct {
	ID        int64
	Type      string
	Payload   []byte
	ExecuteAt int64
	Status    TaskStatus
}

type TaskQueue interface {
	AddTask(ctx context.Context, typ string, payload []byte, executeAt int64) (int64, error)
	PendingTasks(ctx context.Context, now int64) ([]QueuedTask, error)
	SetTaskStatus(ctx context.Context, id int64, status TaskStatus) error
}
