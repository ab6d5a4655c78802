package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/post"
	logx "postrelay/pkg/logx"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	mp4Bytes = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom\x00\x00\x00\x08free")
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestDetectType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, post.MediaPhoto, DetectType(writeFile(t, "a", pngBytes)))
	assert.Equal(t, post.MediaVideo, DetectType(writeFile(t, "b", mp4Bytes)))
	assert.Equal(t, post.MediaUnknown, DetectType(writeFile(t, "c", []byte("just text"))))
	assert.Equal(t, post.MediaUnknown, DetectType(filepath.Join(t.TempDir(), "missing")))
}

func TestHTTPDownloaderSendsHeadersAndNamesFile(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	referers := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		mu.Lock()
		referers[r.URL.Path] = r.Header.Get("Referer")
		mu.Unlock()
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	d := NewHTTPDownloader(dir, 0, logx.Nop())

	p, err := d.Download(context.Background(), srv.URL+"/media/abc.jpg?name=orig", "task/1", PresetHeaders(post.PlatformX))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(p))
	assert.True(t, strings.HasPrefix(filepath.Base(p), "task_1-"))
	assert.Equal(t, ".jpg", filepath.Ext(p))

	// no extension in the URL: sniffed from content
	p2, err := d.Download(context.Background(), srv.URL+"/media/abc", "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(p2))
	assert.NotEqual(t, p, p2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "https://x.com/", referers["/media/abc.jpg"], "preset headers are sent")
	assert.Empty(t, referers["/media/abc"], "nil headers add no Referer")
}

func TestHTTPDownloaderRejectsNonSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	_, err := NewHTTPDownloader(dir, 0, logx.Nop()).Download(context.Background(), srv.URL+"/x.jpg", "t", nil)
	require.Error(t, err)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestURLExt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ".jpg", urlExt("https://pbs.twimg.com/media/a.JPG"))
	assert.Equal(t, ".png", urlExt("https://pbs.twimg.com/media/a?format=png&name=large"))
	assert.Equal(t, "", urlExt("https://example.com/watch"))
}

func TestGalleryDLCollectsFiles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	tool := writeFile(t, "gallery-dl", []byte("#!/bin/sh\n# -D <dir> [args] <url>\nprintf 'a' > \"$2/02.jpg\"\nprintf 'b' > \"$2/01.mp4\"\n"))
	require.NoError(t, os.Chmod(tool, 0o755))

	cache := t.TempDir()
	g := NewGalleryDL(tool, nil, 0, cache, logx.Nop())
	files, err := g.DownloadAll(context.Background(), "https://x.com/a/status/1", "t1", ToolOptions{Args: []string{"--no-mtime"}})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "01.mp4", filepath.Base(files[0]))
	assert.Equal(t, "02.jpg", filepath.Base(files[1]))

	require.NoError(t, Cleanup(files))
	entries, _ := os.ReadDir(cache)
	assert.Empty(t, entries, "per-call directory removed with its files")
}

func TestGalleryDLFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	tool := writeFile(t, "gallery-dl", []byte("#!/bin/sh\necho 'unsupported URL' >&2\nexit 1\n"))
	require.NoError(t, os.Chmod(tool, 0o755))

	cache := t.TempDir()
	_, err := NewGalleryDL(tool, nil, 0, cache, logx.Nop()).DownloadAll(context.Background(), "https://example.com", "t", ToolOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL")
	entries, _ := os.ReadDir(cache)
	assert.Empty(t, entries)
}
