// Package media fetches post media into a local cache directory: direct
// HTTP downloads with per-platform headers, or an external gallery-dl run.
package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"postrelay/internal/post"
)

// DetectType sniffs a downloaded file.
func DetectType(path string) post.MediaType {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return post.MediaUnknown
	}
	return typeOf(mt)
}

func typeOf(mt *mimetype.MIME) post.MediaType {
	for m := mt; m != nil; m = m.Parent() {
		switch top, _, _ := strings.Cut(m.String(), "/"); top {
		case "image":
			return post.MediaPhoto
		case "video":
			return post.MediaVideo
		case "audio":
			return post.MediaAudio
		}
	}
	return post.MediaUnknown
}

// Cleanup removes downloaded files and any per-call directory left empty.
func Cleanup(paths []string) error {
	var errs []error
	dirs := map[string]struct{}{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if d := filepath.Dir(p); strings.HasPrefix(filepath.Base(d), galleryDirPrefix) {
			dirs[d] = struct{}{}
		}
	}
	for d := range dirs {
		_ = os.Remove(d)
	}
	return errors.Join(errs...)
}
