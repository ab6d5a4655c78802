// Package card obtains generated post card images from an external render
// service.
package card

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"postrelay/internal/post"
)

var ErrDisabled = errors.New("card renderer disabled")

const (
	defaultTimeout = 30 * time.Second
	maxCardSize    = 32 << 20
)

type Renderer interface {
	RenderCard(ctx context.Context, p *post.Post) ([]byte, error)
}

// Disabled always fails with ErrDisabled so image modes fall back to text.
type Disabled struct{}

func (Disabled) RenderCard(context.Context, *post.Post) ([]byte, error) { return nil, ErrDisabled }

// HTTPRenderer POSTs the post (with its reference chain under "ref") to URL
// and expects image bytes back.
type HTTPRenderer struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPRenderer{URL: strings.TrimSpace(url), Timeout: timeout, Client: &http.Client{}}
}

// New returns Disabled for an empty url.
func New(url string, timeout time.Duration) Renderer {
	if strings.TrimSpace(url) == "" {
		return Disabled{}
	}
	return NewHTTPRenderer(url, timeout)
}

type cardPost struct {
	*post.Post
	Ref *cardPost `json:"ref,omitempty"`
}

func payloadFor(p *post.Post) *cardPost {
	chain := p.Chain()
	var next *cardPost
	for i := len(chain) - 1; i >= 0; i-- {
		next = &cardPost{Post: chain[i], Ref: next}
	}
	return next
}

func (r *HTTPRenderer) RenderCard(ctx context.Context, p *post.Post) ([]byte, error) {
	if p == nil {
		return nil, errors.New("render card: nil post")
	}
	body, err := json.Marshal(payloadFor(p))
	if err != nil {
		return nil, err
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, image/*")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCardSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("render card: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data[:min(len(data), 256)])))
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("render card: unexpected content %s", mt.String())
	}
	return data, nil
}

// WriteFile stores card bytes as dir/name and returns the path.
func WriteFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return p, nil
}
