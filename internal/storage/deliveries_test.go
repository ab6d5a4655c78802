package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

func exerciseDeliveryStore(t *testing.T, s DeliveryStore) {
	t.Helper()
	ctx := context.Background()
	a := DeliveryKey{PostID: 1, Platform: post.PlatformX, TargetID: "t1", Kind: KindArticle}
	b := DeliveryKey{PostID: 1, Platform: post.PlatformX, TargetID: "t2", Kind: KindArticle}

	require.NoError(t, s.Claim(ctx, a))
	require.NoError(t, s.Claim(ctx, a), "duplicate claim must be a no-op")

	ok, err := s.Exists(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok, "records are per target")

	require.NoError(t, s.Unclaim(ctx, a))
	require.NoError(t, s.Unclaim(ctx, a))
	ok, err = s.Exists(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileDeliveries(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.json")
	cfg := DeliveryConfig{Driver: "file", Path: path}

	s, err := OpenDeliveries(cfg, nil, logx.Nop())
	require.NoError(t, err)
	exerciseDeliveryStore(t, s)

	k := DeliveryKey{PostID: 9, Platform: post.PlatformInstagram, TargetID: "t", Kind: KindArticle}
	require.NoError(t, s.Claim(context.Background(), k))
	require.NoError(t, s.Close())

	// Reopen replays the journal.
	s, err = OpenDeliveries(cfg, nil, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ok, err := s.Exists(context.Background(), k)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileDeliveriesCompaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.json")
	cfg := DeliveryConfig{Driver: "file", Path: path}

	s, err := OpenDeliveries(cfg, nil, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < compactEvery+5; i++ {
		require.NoError(t, s.Claim(ctx, DeliveryKey{PostID: int64(i), Platform: post.PlatformX, TargetID: "t", Kind: KindArticle}))
	}
	require.NoError(t, s.Close())

	s, err = OpenDeliveries(cfg, nil, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, id := range []int64{0, compactEvery - 1, compactEvery + 4} {
		ok, err := s.Exists(ctx, DeliveryKey{PostID: id, Platform: post.PlatformX, TargetID: "t", Kind: KindArticle})
		require.NoError(t, err)
		assert.True(t, ok, "post %d", id)
	}
}

func TestRedisDeliveries(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newRedisDeliveries(client, "test:", logx.Nop())
	t.Cleanup(func() { _ = s.Close() })

	exerciseDeliveryStore(t, s)

	k := DeliveryKey{PostID: 3, Platform: post.PlatformX, TargetID: "t", Kind: KindArticle}
	require.NoError(t, s.Claim(context.Background(), k))
	assert.True(t, mr.Exists("test:delivery:3:x:t:article"))
}

func TestOpenDeliveriesSharesSQLite(t *testing.T) {
	t.Parallel()
	db := openTestSQLite(t)
	s, err := OpenDeliveries(DeliveryConfig{}, db, logx.Nop())
	require.NoError(t, err)
	exerciseDeliveryStore(t, s)
	require.NoError(t, s.Close())

	// Closing the shared view leaves the database usable.
	_, err = db.Exists(context.Background(), DeliveryKey{PostID: 1, TargetID: "t", Kind: KindArticle})
	require.NoError(t, err)

	_, err = OpenDeliveries(DeliveryConfig{Driver: "mongo"}, db, logx.Nop())
	assert.Error(t, err)
}
