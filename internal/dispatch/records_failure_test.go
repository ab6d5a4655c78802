package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"postrelay/internal/post"
	"postrelay/internal/storage"
)

var errStoreDown = errors.New("database is locked")

// faultyRecords wraps memRecords and fails the calls its hooks reject.
type faultyRecords struct {
	*memRecords

	mu      sync.Mutex
	exists  func(storage.DeliveryKey) error
	claim   func(storage.DeliveryKey) error
	unclaim func(storage.DeliveryKey) error
}

func (f *faultyRecords) hook(fn func(storage.DeliveryKey) error, k storage.DeliveryKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(k)
}

func (f *faultyRecords) Exists(ctx context.Context, k storage.DeliveryKey) (bool, error) {
	if err := f.hook(f.exists, k); err != nil {
		return false, err
	}
	return f.memRecords.Exists(ctx, k)
}

func (f *faultyRecords) Claim(ctx context.Context, k storage.DeliveryKey) error {
	if err := f.hook(f.claim, k); err != nil {
		return err
	}
	return f.memRecords.Claim(ctx, k)
}

func (f *faultyRecords) Unclaim(ctx context.Context, k storage.DeliveryKey) error {
	if err := f.hook(f.unclaim, k); err != nil {
		return err
	}
	return f.memRecords.Unclaim(ctx, k)
}

func withFaultyRecords(fx *fixture) *faultyRecords {
	fr := &faultyRecords{memRecords: fx.records}
	fx.engine.records = fr
	return fr
}

// failOnce rejects the first call matching match.
func failOnce(match func(storage.DeliveryKey) bool) func(storage.DeliveryKey) error {
	done := false
	return func(k storage.DeliveryKey) error {
		if !done && match(k) {
			done = true
			return errStoreDown
		}
		return nil
	}
}

func TestClaimFailureMidChainRollsBackAndRetries(t *testing.T) {
	t.Parallel()
	tg := &fakeTarget{id: "t1"}
	fx := newFixture(t, []*post.Post{chain(2, time.Minute, "hello")}, nil, []*fakeTarget{tg})
	fr := withFaultyRecords(fx)
	fr.claim = failOnce(func(k storage.DeliveryKey) bool { return k.PostID == 2 })

	fx.run(t)
	assert.Zero(t, tg.Calls(), "send is skipped when the chain cannot be claimed")
	assert.False(t, fx.records.has(1, "t1"), "root claim must be rolled back")
	assert.False(t, fx.records.has(2, "t1"))
	assert.Zero(t, fx.engine.ErrorCount("x:a1"), "a skipped send is not an attempt")

	fx.run(t)
	assert.Equal(t, 1, tg.Calls())
	assert.True(t, fx.records.has(1, "t1"))
	assert.True(t, fx.records.has(2, "t1"))
}

func TestClaimFailureOnFilteredPostRollsBack(t *testing.T) {
	t.Parallel()
	tg := &fakeTarget{id: "t1"}
	fx := newFixture(t, []*post.Post{chain(3, time.Minute, "nothing relevant")}, []string{"live"}, []*fakeTarget{tg})
	fr := withFaultyRecords(fx)
	fr.claim = failOnce(func(k storage.DeliveryKey) bool { return k.PostID == 3 })

	fx.run(t)
	for _, id := range []int64{1, 2, 3} {
		assert.False(t, fx.records.has(id, "t1"))
	}

	fx.run(t)
	for _, id := range []int64{1, 2, 3} {
		assert.True(t, fx.records.has(id, "t1"))
	}
	assert.Zero(t, tg.Calls())
}

func TestExistsFailureSkipsOnlyThatTarget(t *testing.T) {
	t.Parallel()
	t1, t2 := &fakeTarget{id: "t1"}, &fakeTarget{id: "t2"}
	fx := newFixture(t, []*post.Post{chain(1, time.Minute, "hello")}, nil, []*fakeTarget{t1, t2})
	fr := withFaultyRecords(fx)
	fr.exists = func(k storage.DeliveryKey) error {
		if k.TargetID == "t1" {
			return errStoreDown
		}
		return nil
	}

	fx.run(t)
	assert.Zero(t, t1.Calls())
	assert.Equal(t, 1, t2.Calls())
	assert.True(t, fx.records.has(1, "t2"))
	assert.False(t, fx.records.has(1, "t1"))
}

func TestClaimFailureDoesNotStopOtherPosts(t *testing.T) {
	t.Parallel()
	tg := &fakeTarget{id: "t1"}
	other := &post.Post{ID: 5, Platform: post.PlatformX, AID: "b5", UID: "alice", CreatedAt: testNow.Add(-time.Minute).Unix(), Content: "second"}
	fx := newFixture(t, []*post.Post{chain(1, time.Minute, "first"), other}, nil, []*fakeTarget{tg})
	fr := withFaultyRecords(fx)
	fr.claim = func(k storage.DeliveryKey) error {
		if k.PostID == 1 {
			return errStoreDown
		}
		return nil
	}

	fx.run(t)
	assert.Equal(t, []string{"img-tag:b5"}, tg.texts)
	assert.True(t, fx.records.has(5, "t1"))
	assert.False(t, fx.records.has(1, "t1"))
}

func TestUnclaimFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	bad, good := &fakeTarget{id: "t1", fail: alwaysFail}, &fakeTarget{id: "t2"}
	fx := newFixture(t, []*post.Post{chain(1, time.Minute, "hello")}, nil, []*fakeTarget{bad, good})
	fr := withFaultyRecords(fx)
	fr.unclaim = func(storage.DeliveryKey) error { return errStoreDown }

	fx.run(t)
	assert.Equal(t, 1, bad.Calls())
	assert.Equal(t, 1, good.Calls())
	assert.True(t, fx.records.has(1, "t2"))
	assert.Equal(t, 1.0, fx.count("t1", OutcomeFailed))
	assert.Equal(t, 1.0, fx.count("t2", OutcomeSent))
}
