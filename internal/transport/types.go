// Package transport holds the delivery adapter contract and the behavior
// every adapter shares: replace rules, block rules, text splitting, media
// batching and per-adapter pacing.
package transport

import (
	"context"
	"errors"
	"time"

	"postrelay/internal/post"
)

var ErrUnknownTarget = errors.New("unknown target")

// File is a local media file attached to a delivery.
type File struct {
	Path string
	Type post.MediaType
}

// SendProps carries everything besides the text of one delivery.
type SendProps struct {
	Files []File
	// Timestamp is the creation time of the delivered post (epoch seconds).
	Timestamp int64
}

// BlockContext is the input of Adapter.CheckBlocked.
type BlockContext struct {
	PostTime time.Time
	Now      time.Time
}

// Adapter delivers rendered payloads to one target. Send never retries and
// reports any non-success response as an error.
type Adapter interface {
	ID() string
	Platform() string
	CheckBlocked(bc BlockContext) bool
	Send(ctx context.Context, text string, props SendProps) error
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close(ctx context.Context) error
}
