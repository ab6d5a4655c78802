package media

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeebo/blake3"

	logx "postrelay/pkg/logx"
)

const (
	defaultTimeout = 60 * time.Second
	maxFileSize    = 512 << 20
)

// HTTPDownloader fetches single URLs into Dir.
type HTTPDownloader struct {
	Dir     string
	Timeout time.Duration
	Client  *http.Client
	Log     logx.Logger
}

func NewHTTPDownloader(dir string, timeout time.Duration, log logx.Logger) *HTTPDownloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPDownloader{Dir: dir, Timeout: timeout, Client: &http.Client{}, Log: log}
}

// Download saves rawURL as <taskID>-<digest><ext> and returns the path.
// Any non-2xx response is an error.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, taskID string, headers http.Header) (string, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("download %s: http %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", err
	}
	base := fileBase(taskID, rawURL)
	tmp, err := os.CreateTemp(d.Dir, base+"-*.part")
	if err != nil {
		return "", err
	}
	n, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, maxFileSize+1))
	closeErr := tmp.Close()
	if copyErr == nil && n > maxFileSize {
		copyErr = fmt.Errorf("download %s: larger than %d bytes", rawURL, maxFileSize)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}

	ext := urlExt(rawURL)
	if ext == "" {
		if mt, err := mimetype.DetectFile(tmp.Name()); err == nil {
			ext = mt.Extension()
		}
	}
	final := filepath.Join(d.Dir, base+ext)
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	d.Log.Debug("media downloaded", logx.String("url", rawURL), logx.String("path", final), logx.Int64("bytes", n))
	return final, nil
}

func fileBase(taskID, rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	id := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, taskID)
	return id + "-" + hex.EncodeToString(sum[:8])
}

// urlExt returns a short lowercase extension from the URL path, or from a
// twitter-style ?format= query.
func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if f := u.Query().Get("format"); ext == "" && f != "" {
		ext = "." + strings.ToLower(f)
	}
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	return ext
}
