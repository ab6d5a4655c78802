package render

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/card"
	"postrelay/internal/media"
	"postrelay/internal/post"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

func quotePost() *post.Post {
	orig := &post.Post{ID: 2, Platform: post.PlatformX, AID: "2", Username: "bob", Content: "original\nsecond line", CreatedAt: 1767225000}
	return &post.Post{
		ID: 1, Platform: post.PlatformX, AID: "1", Username: "alice",
		Content: "hello world", URL: "https://x.com/alice/status/1", CreatedAt: 1767225600,
		Ref: post.RefEmbedded(orig),
	}
}

func TestTextGolden(t *testing.T) {
	t.Parallel()
	g := goldie.New(t)
	g.Assert(t, "full_text_quote", []byte(FullText(quotePost())))
	g.Assert(t, "metaline", []byte(Metaline(quotePost())))
	g.Assert(t, "full_text_no_content", []byte(FullText(&post.Post{
		Platform: post.PlatformTikTok, UID: "u123", URL: "https://www.tiktok.com/@u123/video/9",
	})))
}

type fakeDownloader struct {
	mu   sync.Mutex
	dir  string
	fail map[string]bool
	got  []string
}

func (f *fakeDownloader) Download(_ context.Context, url, taskID string, _ http.Header) (string, error) {
	f.mu.Lock()
	f.got = append(f.got, url)
	f.mu.Unlock()
	if f.fail[url] {
		return "", errors.New("404")
	}
	name := taskID + "-" + strings.NewReplacer("/", "_", ":", "_").Replace(url)
	p := filepath.Join(f.dir, name)
	return p, os.WriteFile(p, []byte(url), 0o644)
}

type fakeTool struct{ files []string }

func (f *fakeTool) DownloadAll(context.Context, string, string, media.ToolOptions) ([]string, error) {
	return f.files, nil
}

type fakeCards struct{ err error }

func (f fakeCards) RenderCard(context.Context, *post.Post) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png"), nil
}

func newRenderer(t *testing.T, cards card.Renderer) (*Renderer, *fakeDownloader) {
	t.Helper()
	dl := &fakeDownloader{dir: t.TempDir(), fail: map[string]bool{}}
	r := New(dl, &fakeTool{}, cards, t.TempDir(), logx.Nop())
	r.detect = func(path string) post.MediaType {
		if strings.HasSuffix(path, ".mp4") {
			return post.MediaVideo
		}
		return post.MediaPhoto
	}
	return r, dl
}

func paths(files []transport.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, filepath.Base(f.Path))
	}
	return out
}

func TestRenderTextIsStable(t *testing.T) {
	t.Parallel()
	r, _ := newRenderer(t, fakeCards{})
	p := quotePost()
	a, err := r.Render(context.Background(), p, Options{TaskID: "t", Mode: ModeText})
	require.NoError(t, err)
	b, err := r.Render(context.Background(), p, Options{TaskID: "t"})
	require.NoError(t, err)
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, FullText(p), a.Text)
	assert.Empty(t, a.Files)
}

func TestRenderImgWithSourceSummaryAppendsCard(t *testing.T) {
	t.Parallel()
	r, _ := newRenderer(t, fakeCards{})
	p := &post.Post{Platform: post.PlatformX, AID: "9", HasMedia: true, Media: []post.Media{{URL: "https://img/a.jpg", Type: post.MediaPhoto}}}

	res, err := r.Render(context.Background(), p, Options{TaskID: "t", Mode: ModeImgWithSourceSummary, Media: &MediaOptions{Tool: ToolDefault}})
	require.NoError(t, err)
	assert.Equal(t, "X", res.Text)
	require.Len(t, res.Files, 2)
	assert.Equal(t, post.MediaPhoto, res.Files[0].Type)
	assert.Contains(t, res.Files[0].Path, "a.jpg")
	assert.Equal(t, "t-9-rendered.png", filepath.Base(res.Files[1].Path))

	r.Cleanup(res)
	for _, f := range res.Files {
		_, err := os.Stat(f.Path)
		assert.True(t, os.IsNotExist(err), f.Path)
	}
}

func TestRenderImgModes(t *testing.T) {
	t.Parallel()
	p := quotePost()
	p.HasMedia = true
	p.Media = []post.Media{{URL: "https://img/a.jpg", Type: post.MediaPhoto}}
	opts := func(mode string) Options {
		return Options{TaskID: "t", Mode: mode, Media: &MediaOptions{Tool: ToolDefault}}
	}

	ok, _ := newRenderer(t, fakeCards{})
	res, err := ok.Render(context.Background(), p, opts(ModeImgTag))
	require.NoError(t, err)
	assert.Equal(t, Metaline(p), res.Text)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "t-1-rendered.png", filepath.Base(res.Files[0].Path), "card goes first")

	res, err = ok.Render(context.Background(), p, opts(ModeImg))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Len(t, res.Files, 2)

	broken, _ := newRenderer(t, fakeCards{err: errors.New("render service down")})
	res, err = broken.Render(context.Background(), p, opts(ModeImgTag))
	require.NoError(t, err)
	assert.Equal(t, FullText(p), res.Text, "card failure falls back to full text")
	assert.Len(t, res.Files, 1)

	res, err = broken.Render(context.Background(), p, opts(ModeImg))
	require.NoError(t, err)
	assert.Empty(t, res.Text)

	res, err = ok.Render(context.Background(), p, opts(ModeImgWithSource))
	require.NoError(t, err)
	assert.Equal(t, "X", res.Text)
	assert.Len(t, res.Files, 1, "no card")
}

func TestRenderMediaWalksChainAndSkipsFailures(t *testing.T) {
	t.Parallel()
	r, dl := newRenderer(t, card.Disabled{})
	dl.fail["https://img/bad.jpg"] = true

	orig := &post.Post{Platform: post.PlatformX, AID: "2", HasMedia: true,
		Media: []post.Media{{URL: "https://img/c.jpg", Type: post.MediaPhoto}},
		Extra: &post.Extra{Media: []post.Media{{URL: "https://img/d.mp4", Type: post.MediaPhoto}}},
	}
	p := &post.Post{Platform: post.PlatformX, AID: "1", HasMedia: true,
		Media: []post.Media{{URL: "https://img/a.jpg", Type: post.MediaPhoto}, {URL: "https://img/bad.jpg", Type: post.MediaPhoto}, {URL: "https://img/b.jpg", Type: post.MediaPhoto}},
		Ref:   post.RefEmbedded(orig),
	}

	res, err := r.Render(context.Background(), p, Options{TaskID: "t", Media: &MediaOptions{Tool: ToolDefault}})
	require.NoError(t, err)
	got := paths(res.Files)
	require.Len(t, got, 4)
	assert.Contains(t, got[0], "a.jpg")
	assert.Contains(t, got[1], "b.jpg")
	assert.Contains(t, got[2], "c.jpg")
	assert.Contains(t, got[3], "d.mp4")
	assert.Equal(t, post.MediaVideo, res.Files[3].Type, "extra media type is sniffed")

	// no media config: nothing downloaded
	res, err = r.Render(context.Background(), p, Options{TaskID: "t2"})
	require.NoError(t, err)
	assert.Empty(t, res.Files)
}

func TestRenderGalleryDL(t *testing.T) {
	t.Parallel()
	r, _ := newRenderer(t, card.Disabled{})
	r.tool = &fakeTool{files: []string{"/tmp/gdl/1.jpg", "/tmp/gdl/2.mp4"}}
	p := &post.Post{Platform: post.PlatformInstagram, AID: "1", HasMedia: true, URL: "https://instagram.com/p/1"}

	res, err := r.Render(context.Background(), p, Options{TaskID: "t", Media: &MediaOptions{Tool: ToolGalleryDL}})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, post.MediaPhoto, res.Files[0].Type)
	assert.Equal(t, post.MediaVideo, res.Files[1].Type)
}
