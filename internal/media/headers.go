package media

import (
	"net/http"

	"postrelay/internal/post"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var referers = map[post.Platform]string{
	post.PlatformX:         "https://x.com/",
	post.PlatformTwitter:   "https://x.com/",
	post.PlatformInstagram: "https://www.instagram.com/",
	post.PlatformTikTok:    "https://www.tiktok.com/",
	post.PlatformYouTube:   "https://www.youtube.com/",
	post.PlatformBilibili:  "https://www.bilibili.com/",
}

// PresetHeaders returns the request headers CDNs of platform expect.
func PresetHeaders(platform post.Platform) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	if ref, ok := referers[platform]; ok {
		h.Set("Referer", ref)
	}
	return h
}
