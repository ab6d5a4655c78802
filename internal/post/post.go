// Package post defines the social-media post model shared by storage,
// rendering and dispatch.
package post

import (
	"strings"
)

// MaxChainDepth bounds every reference-chain walk. Chains are expected to be
// short and acyclic; the cap keeps a corrupt chain from looping forever.
const MaxChainDepth = 16

// Platform identifies the network a post was collected from.
type Platform string

const (
	PlatformX         Platform = "x"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformBilibili  Platform = "bilibili"
)

var platformLabels = map[Platform]string{
	PlatformX:         "X",
	PlatformTwitter:   "X",
	PlatformTikTok:    "TikTok",
	PlatformInstagram: "Instagram",
	PlatformYouTube:   "YouTube",
	PlatformBilibili:  "Bilibili",
}

// ParsePlatform normalizes a configured platform name.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	_, ok := platformLabels[p]
	return p, ok
}

// Label returns the human-facing platform name.
func (p Platform) Label() string {
	if l, ok := platformLabels[p]; ok {
		return l
	}
	if p != "" {
		return string(p)
	}
	return "Unknown"
}

type MediaType string

const (
	MediaPhoto          MediaType = "photo"
	MediaVideo          MediaType = "video"
	MediaVideoThumbnail MediaType = "video_thumbnail"
	MediaAudio          MediaType = "audio"
	MediaUnknown        MediaType = "unknown"
)

type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}

// Extra carries secondary data whose metadata is not trusted.
type Extra struct {
	Media []Media `json:"media,omitempty"`
}

// Post is a single stored item. ID is zero until persisted.
type Post struct {
	ID        int64     `json:"id,omitempty"`
	Platform  Platform  `json:"platform"`
	AID       string    `json:"a_id"`
	UID       string    `json:"u_id"`
	Username  string    `json:"username"`
	CreatedAt int64     `json:"created_at"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	HasMedia  bool      `json:"has_media"`
	Media     []Media   `json:"media,omitempty"`
	Extra     *Extra    `json:"extra,omitempty"`
	Ref       Ref       `json:"-"`
}

// Key is the per-article key used by the error counter.
func (p *Post) Key() string {
	return string(p.Platform) + ":" + p.AID
}

// Chain returns the post followed by every embedded reference, root first.
// The walk stops at the first reference that is not embedded or at
// MaxChainDepth, whichever comes first.
func (p *Post) Chain() []*Post {
	out := make([]*Post, 0, 2)
	cur := p
	for cur != nil && len(out) < MaxChainDepth {
		out = append(out, cur)
		cur = cur.Ref.Embedded()
	}
	return out
}

// Clone returns a copy of the post and its embedded chain, capped at
// MaxChainDepth nodes.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	root := p.cloneNode()
	cur := root
	for i := 1; i < MaxChainDepth; i++ {
		child := cur.Ref.Embedded()
		if child == nil {
			break
		}
		cp := child.cloneNode()
		cur.Ref = RefEmbedded(cp)
		cur = cp
	}
	if cur.Ref.Embedded() != nil {
		cur.Ref = Ref{}
	}
	return root
}

func (p *Post) cloneNode() *Post {
	cp := *p
	cp.Media = append([]Media(nil), p.Media...)
	if p.Extra != nil {
		cp.Extra = &Extra{Media: append([]Media(nil), p.Extra.Media...)}
	}
	return &cp
}
