package media

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	logx "postrelay/pkg/logx"
)

const (
	galleryDirPrefix      = "gdl-"
	defaultGalleryTimeout = 5 * time.Minute
)

// GalleryDL downloads every media item of a post page with the external
// gallery-dl tool.
type GalleryDL struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Dir     string
	Log     logx.Logger
}

func NewGalleryDL(bin string, args []string, timeout time.Duration, dir string, log logx.Logger) *GalleryDL {
	if strings.TrimSpace(bin) == "" {
		bin = "gallery-dl"
	}
	if timeout <= 0 {
		timeout = defaultGalleryTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &GalleryDL{Path: bin, Args: args, Timeout: timeout, Dir: dir, Log: log}
}

// ToolOptions are per-formatter overrides: Path replaces the binary, Args
// are appended to the configured ones.
type ToolOptions struct {
	Path string
	Args []string
}

// DownloadAll runs the tool into a fresh directory and returns the files it
// produced in name order.
func (g *GalleryDL) DownloadAll(ctx context.Context, sourceURL, taskID string, o ToolOptions) ([]string, error) {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(g.Dir, galleryDirPrefix+fileBase(taskID, sourceURL)+"-")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	args := []string{"-D", dir}
	args = append(args, g.Args...)
	args = append(args, o.Args...)
	args = append(args, sourceURL)
	bin := g.Path
	if p := strings.TrimSpace(o.Path); p != "" {
		bin = p
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dir)
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("gallery-dl %s: %w: %s", sourceURL, err, msg)
	}

	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !strings.HasSuffix(p, ".part") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	sort.Strings(files)
	g.Log.Debug("gallery-dl finished", logx.String("url", sourceURL), logx.Int("files", len(files)), logx.Duration("dur", time.Since(start)))
	return files, nil
}
