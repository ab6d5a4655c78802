package transport

import (
	"context"
	"errors"
	"sort"
	"time"

	logx "postrelay/pkg/logx"
)

// Registry maps target id to adapter. It is filled once at startup and
// read concurrently afterwards.
type Registry struct {
	m map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{m: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.m[a.ID()] = a
	}
	return r
}

func (r *Registry) Get(id string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.m[id]
	return a, ok
}

// IDs returns the registered target ids, sorted.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.m)
}

// Close releases adapters that implement Closer.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, a := range r.m {
		if c, ok := a.(Closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogSink forwards log lines to a target as plain text.
type LogSink struct {
	Adapter Adapter
}

var _ logx.Sink = LogSink{}

func (s LogSink) SendLog(ctx context.Context, text string) error {
	if s.Adapter == nil {
		return ErrUnknownTarget
	}
	return s.Adapter.Send(ctx, text, SendProps{Timestamp: time.Now().Unix()})
}
