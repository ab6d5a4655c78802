package render

import (
	"strings"
	"time"

	"postrelay/internal/post"
)

// FullText formats a post and its reference chain:
//
//	<label> @<username>
//	<content>
//	<url>
//
//	> <label> @<username>: <content>
func FullText(p *post.Post) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(header(p))
	for _, line := range []string{p.Content, p.URL} {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	chain := p.Chain()
	for _, ref := range chain[1:] {
		b.WriteString("\n\n> ")
		b.WriteString(header(ref))
		b.WriteString(":")
		if c := strings.TrimSpace(ref.Content); c != "" {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c, "\n", "\n> "))
		}
	}
	return b.String()
}

// Metaline is the one-line caption sent next to a generated card.
func Metaline(p *post.Post) string {
	if p == nil {
		return ""
	}
	ts := time.Unix(p.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
	return header(p) + " · " + ts + " UTC"
}

func header(p *post.Post) string {
	name := p.Username
	if name == "" {
		name = p.UID
	}
	return p.Platform.Label() + " @" + name
}
