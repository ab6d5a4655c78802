package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/config"
	"postrelay/internal/post"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

type stubTarget struct{ id string }

func (s stubTarget) ID() string                               { return s.id }
func (s stubTarget) Platform() string                         { return "stub" }
func (s stubTarget) CheckBlocked(transport.BlockContext) bool { return false }
func (s stubTarget) Send(context.Context, string, transport.SendProps) error {
	return nil
}

func registry(ids ...string) *transport.Registry {
	as := make([]transport.Adapter, 0, len(ids))
	for _, id := range ids {
		as = append(as, stubTarget{id: id})
	}
	return transport.NewRegistry(as...)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Forwarder: config.ForwarderConfig{RenderType: "text", Keywords: []string{"global"}},
		Crawlers: []config.CrawlerConfig{
			{Name: "x-main", Platform: "X", UIDs: []string{"alice"}, Forwarder: &config.ForwarderConfig{Cron: "*/5 * * * *"}},
			{Name: "ig", Platform: "instagram", UIDs: []string{"bob"}, TaskType: "follows", TaskTitle: "Followers", ComparisonWindow: "48h"},
			{Name: "idle", Platform: "x", UIDs: []string{"c"}},
		},
		Formatters: []config.FormatterConfig{
			{ID: "card", Name: "Card", RenderType: "img-tag", Media: &config.MediaToolConfig{Type: "no-storage", Use: config.MediaToolUse{Tool: "gallery-dl", Args: []string{"--no-mtime"}}}},
			{ID: "plain", Keywords: []string{"live"}},
		},
		Connections: config.ConnectionsConfig{
			CrawlerFormatter: map[string][]string{"x-main": {"card", "plain", "card", "missing"}, "ghost": {"card"}},
			FormatterTarget:  map[string][]string{"card": {"qq-1", "tg-1", "qq-1", "nope"}, "plain": {"nope"}},
			ForwarderTarget:  map[string][]string{"x-main": {"qq-1"}, "ig": {"tg-1", "tg-1"}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestResolveMergesFormatterOverGlobal(t *testing.T) {
	t.Parallel()
	r := NewResolver(testConfig(), registry("qq-1", "tg-1"), logx.Nop())

	paths := r.Resolve("x-main")
	require.Len(t, paths, 2, "plain has no live targets; legacy edge adds a path")

	card := paths[0]
	assert.Equal(t, "card", card.FormatterID)
	assert.Equal(t, "Card", card.FormatterName)
	assert.Equal(t, []string{"qq-1", "tg-1"}, card.TargetIDs(), "deduplicated, unknown dropped")
	assert.Equal(t, "img-tag", card.Config.Mode)
	assert.Equal(t, []string{"global"}, card.Config.Keywords, "formatter without keywords keeps the default")
	require.NotNil(t, card.Config.Media)
	assert.Equal(t, "gallery-dl", card.Config.Media.Tool)
	assert.Equal(t, []string{"--no-mtime"}, card.Config.Media.Args)

	legacy := paths[1]
	assert.Equal(t, LegacyFormatterID, legacy.FormatterID)
	assert.Equal(t, []string{"qq-1"}, legacy.TargetIDs())
	assert.Equal(t, "text", legacy.Config.Mode)
	require.NotNil(t, legacy.Config.Media)
	assert.Equal(t, "default", legacy.Config.Media.Tool)

	assert.Equal(t, []string{"qq-1", "tg-1"}, idsOf(r.Targets("x-main")))
}

func idsOf(as []transport.Adapter) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID())
	}
	return out
}

func TestResolveEmptyAndSources(t *testing.T) {
	t.Parallel()
	r := NewResolver(testConfig(), registry("qq-1", "tg-1"), logx.Nop())

	assert.Empty(t, r.Resolve("idle"))
	assert.Empty(t, r.Resolve("ghost"))
	assert.Equal(t, []string{"ig", "x-main"}, r.Sources())

	ig, ok := r.Source("ig")
	require.True(t, ok)
	assert.Equal(t, post.PlatformInstagram, ig.Platform)
	assert.Equal(t, config.TaskTypeFollows, ig.Kind)
	assert.Equal(t, 48*time.Hour, ig.Window)
	assert.Equal(t, config.DefaultForwarderCron, ig.Cron)
	assert.Equal(t, []string{"tg-1"}, idsOf(r.Targets("ig")))

	x, ok := r.Source("x-main")
	require.True(t, ok)
	assert.Equal(t, post.PlatformX, x.Platform)
	assert.Equal(t, "*/5 * * * *", x.Cron)
	assert.Equal(t, config.DefaultComparisonWindow, x.Window)
}

func TestNilResolver(t *testing.T) {
	t.Parallel()
	var r *Resolver
	assert.Nil(t, r.Resolve("x"))
	assert.Nil(t, r.Sources())
	_, ok := r.Source("x")
	assert.False(t, ok)
	assert.Empty(t, NewResolver(nil, registry(), logx.Nop()).Sources())
}
