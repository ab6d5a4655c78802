package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSavePostFirstWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	first, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformX, AID: "1", UID: "u", Content: "first", CreatedAt: 10})
	require.NoError(t, err)
	second, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformX, AID: "1", UID: "u", Content: "second", CreatedAt: 20})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", second.Content)
	assert.EqualValues(t, 10, second.CreatedAt)
}

func TestSavePostEmbeddedChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	quoted := &post.Post{Platform: post.PlatformX, AID: "q", UID: "other", CreatedAt: 5, HasMedia: true,
		Media: []post.Media{{URL: "https://img/1.jpg", Type: post.MediaPhoto}}}
	p := &post.Post{Platform: post.PlatformX, AID: "p", UID: "u", CreatedAt: 6, Ref: post.RefEmbedded(quoted),
		Extra: &post.Extra{Media: []post.Media{{URL: "https://img/x"}}}}

	saved, err := db.SavePost(ctx, p)
	require.NoError(t, err)
	chain := saved.Chain()
	require.Len(t, chain, 2)
	assert.Equal(t, "q", chain[1].AID)
	assert.NotZero(t, chain[1].ID)
	assert.Equal(t, []post.Media{{URL: "https://img/1.jpg", Type: post.MediaPhoto}}, chain[1].Media)
	require.NotNil(t, saved.Extra)
	assert.Equal(t, "https://img/x", saved.Extra.Media[0].URL)

	// Twitter shares the X table.
	viaTwitter, err := db.PostByAID(ctx, post.PlatformTwitter, "p")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, viaTwitter.ID)
}

func TestSavePostResolvesExternalRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	base, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformInstagram, AID: "base", UID: "u", CreatedAt: 1})
	require.NoError(t, err)
	saved, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformInstagram, AID: "reply", UID: "u", CreatedAt: 2, Ref: post.RefAID("base")})
	require.NoError(t, err)

	child := saved.Ref.Embedded()
	require.NotNil(t, child)
	assert.Equal(t, base.ID, child.ID)
}

func TestRecentPostsAndRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	for i := 1; i <= 12; i++ {
		_, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformTikTok, AID: string(rune('a' + i)), UID: "u", CreatedAt: int64(i * 100)})
		require.NoError(t, err)
	}
	_, err := db.SavePost(ctx, &post.Post{Platform: post.PlatformTikTok, AID: "z", UID: "someone-else", CreatedAt: 5000})
	require.NoError(t, err)

	recent, err := db.RecentPosts(ctx, post.PlatformTikTok, "u", 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.EqualValues(t, 1200, recent[0].CreatedAt)
	assert.EqualValues(t, 300, recent[9].CreatedAt)

	ranged, err := db.PostsInRange(ctx, post.PlatformTikTok, "u", 200, 400)
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.EqualValues(t, 200, ranged[0].CreatedAt)
	assert.EqualValues(t, 400, ranged[2].CreatedAt)
}

func TestUnsupportedPlatform(t *testing.T) {
	t.Parallel()
	db := openTestSQLite(t)
	_, err := db.RecentPosts(context.Background(), "myspace", "u", 10)
	assert.Error(t, err)
}

func TestSQLiteClaimIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)
	k := DeliveryKey{PostID: 1, Platform: post.PlatformX, TargetID: "qq-1", Kind: KindArticle}

	ok, err := db.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Claim(ctx, k))
	require.NoError(t, db.Claim(ctx, k))
	ok, err = db.Exists(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Unclaim(ctx, k))
	ok, err = db.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestFollows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	_, err := db.LatestFollows(ctx, post.PlatformX, "u", 24*time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)

	// A zero CreatedAt means "now", so the snapshots start at a fixed epoch.
	base, day := int64(1772496000), int64(24*3600)
	for i, n := range []int64{100, 150, 180} {
		_, err := db.SaveFollows(ctx, post.Follows{Platform: post.PlatformX, UID: "u", Followers: n, CreatedAt: base + int64(i)*day/2})
		require.NoError(t, err)
	}

	pair, err := db.LatestFollows(ctx, post.PlatformX, "u", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 180, pair.Latest.Followers)
	require.NotNil(t, pair.Prior)
	assert.EqualValues(t, 100, pair.Prior.Followers)

	pair, err = db.LatestFollows(ctx, post.PlatformX, "u", 48*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, pair.Prior)
}

func TestSaveFollowsStampsZeroTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	before := time.Now().Unix()
	_, err := db.SaveFollows(ctx, post.Follows{Platform: post.PlatformX, UID: "u", Followers: 7})
	require.NoError(t, err)

	pair, err := db.LatestFollows(ctx, post.PlatformX, "u", time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pair.Latest.CreatedAt, before)
}

func TestTaskQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	due, err := db.AddTask(ctx, "aggregate_daily", []byte(`{"u_id":"u"}`), 100)
	require.NoError(t, err)
	_, err = db.AddTask(ctx, "aggregate_daily", []byte(`{}`), 500)
	require.NoError(t, err)

	pending, err := db.PendingTasks(ctx, 200)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due, pending[0].ID)
	assert.JSONEq(t, `{"u_id":"u"}`, string(pending[0].Payload))

	require.NoError(t, db.SetTaskStatus(ctx, due, TaskCompleted))
	pending, err = db.PendingTasks(ctx, 200)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, db.SetTaskStatus(ctx, 9999, TaskFailed), ErrNotFound)
}
