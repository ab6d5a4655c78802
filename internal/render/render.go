// Package render turns a post into a deliverable payload: text chosen by
// render mode, downloaded media and an optional generated card.
package render

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"postrelay/internal/card"
	"postrelay/internal/media"
	"postrelay/internal/post"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

// Render modes.
const (
	ModeText                 = "text"
	ModeImg                  = "img"
	ModeImgTag               = "img-tag"
	ModeImgWithSource        = "img-with-source"
	ModeImgWithSourceSummary = "img-with-source-summary"
)

// Media tools.
const (
	ToolDefault   = "default"
	ToolGalleryDL = "gallery-dl"
)

// MediaOptions selects how post media is fetched.
type MediaOptions struct {
	Tool    string
	Storage string
	// Path and Args customize the gallery-dl run.
	Path string
	Args []string
}

type Options struct {
	TaskID string
	Mode   string
	// Media nil skips media download entirely.
	Media *MediaOptions
}

type Result struct {
	Text  string
	Files []transport.File
}

type Downloader interface {
	Download(ctx context.Context, url, taskID string, headers http.Header) (string, error)
}

type ToolDownloader interface {
	DownloadAll(ctx context.Context, sourceURL, taskID string, o media.ToolOptions) ([]string, error)
}

type Renderer struct {
	dl      Downloader
	tool    ToolDownloader
	cards   card.Renderer
	cardDir string
	log     logx.Logger

	// detect sniffs downloaded files; tests replace it.
	detect func(path string) post.MediaType
}

func New(dl Downloader, tool ToolDownloader, cards card.Renderer, cardDir string, log logx.Logger) *Renderer {
	if cards == nil {
		cards = card.Disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Renderer{dl: dl, tool: tool, cards: cards, cardDir: cardDir, log: log, detect: media.DetectType}
}

// Render never fails because of media or card problems; those degrade the
// payload and are logged. The returned Result must be passed to Cleanup.
func (r *Renderer) Render(ctx context.Context, p *post.Post, opt Options) (Result, error) {
	if p == nil {
		return Result{}, errors.New("render: nil post")
	}
	p = p.Clone()
	var res Result
	if opt.Media != nil {
		res.Files = r.fetchMedia(ctx, p, opt.TaskID, *opt.Media)
	}

	switch mode := strings.TrimSpace(opt.Mode); {
	case mode == ModeImgWithSource:
		res.Text = p.Platform.Label()
	case mode == ModeImgWithSourceSummary:
		res.Text = p.Platform.Label()
		if f, ok := r.cardFile(ctx, p, opt.TaskID); ok {
			res.Files = append(res.Files, f)
		}
	case strings.HasPrefix(mode, "img"):
		if f, ok := r.cardFile(ctx, p, opt.TaskID); ok {
			res.Files = append([]transport.File{f}, res.Files...)
			res.Text = Metaline(p)
		} else {
			res.Text = FullText(p)
		}
		if mode == ModeImg {
			res.Text = ""
		}
	default:
		res.Text = FullText(p)
	}
	return res, nil
}

// Cleanup removes every local file of res.
func (r *Renderer) Cleanup(res Result) {
	paths := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	if err := media.Cleanup(paths); err != nil {
		r.log.Warn("render cleanup failed", logx.Err(err))
	}
}

func (r *Renderer) cardFile(ctx context.Context, p *post.Post, taskID string) (transport.File, bool) {
	data, err := r.cards.RenderCard(ctx, p)
	if err != nil {
		if !errors.Is(err, card.ErrDisabled) {
			r.log.Error("card render failed", logx.String("a_id", p.AID), logx.Err(err))
		}
		return transport.File{}, false
	}
	path, err := card.WriteFile(r.cardDir, taskID+"-"+p.AID+"-rendered.png", data)
	if err != nil {
		r.log.Error("card write failed", logx.String("a_id", p.AID), logx.Err(err))
		return transport.File{}, false
	}
	return transport.File{Path: path, Type: post.MediaPhoto}, true
}

// fetchMedia walks the chain root first and concatenates what each node
// yields. Failed items are dropped.
func (r *Renderer) fetchMedia(ctx context.Context, p *post.Post, taskID string, opt MediaOptions) []transport.File {
	var out []transport.File
	for _, node := range p.Chain() {
		if !node.HasMedia {
			continue
		}
		headers := media.PresetHeaders(node.Platform)
		switch opt.Tool {
		case ToolGalleryDL:
			if r.tool == nil {
				r.log.Warn("gallery-dl requested but not configured", logx.String("a_id", node.AID))
				break
			}
			paths, err := r.tool.DownloadAll(ctx, node.URL, taskID, media.ToolOptions{Path: opt.Path, Args: opt.Args})
			if err != nil {
				r.log.Error("gallery-dl failed", logx.String("a_id", node.AID), logx.String("url", node.URL), logx.Err(err))
			}
			for _, path := range paths {
				out = append(out, transport.File{Path: path, Type: r.detect(path)})
			}
		default:
			out = append(out, r.download(ctx, node.Media, taskID, headers, false)...)
		}
		if node.Extra != nil {
			out = append(out, r.download(ctx, node.Extra.Media, taskID, headers, true)...)
		}
	}
	return out
}

// download fetches items concurrently and keeps their order. sniff replaces
// the declared type with the detected one.
func (r *Renderer) download(ctx context.Context, items []post.Media, taskID string, headers http.Header, sniff bool) []transport.File {
	if len(items) == 0 || r.dl == nil {
		return nil
	}
	files := make([]transport.File, len(items))
	var g errgroup.Group
	for i, m := range items {
		g.Go(func() error {
			path, err := r.dl.Download(ctx, m.URL, taskID, headers)
			if err != nil {
				r.log.Error("media download failed; skipping", logx.String("url", m.URL), logx.Err(err))
				return nil
			}
			typ := m.Type
			if sniff {
				typ = r.detect(path)
			}
			files[i] = transport.File{Path: path, Type: typ}
			return nil
		})
	}
	_ = g.Wait()

	out := files[:0]
	for _, f := range files {
		if f.Path != "" {
			out = append(out, f)
		}
	}
	return out
}
