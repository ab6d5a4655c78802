package post

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Follows is one follower-count snapshot for an account.
type Follows struct {
	ID        int64    `json:"id,omitempty"`
	Platform  Platform `json:"platform"`
	UID       string   `json:"u_id"`
	Username  string   `json:"username"`
	Followers int64    `json:"followers"`
	CreatedAt int64    `json:"created_at"`
}

// FollowsPair is the latest snapshot and an older one to compare against.
// Prior is nil when no snapshot old enough exists.
type FollowsPair struct {
	Latest Follows
	Prior  *Follows
}

// FollowsText formats follower deltas grouped by platform, platforms in
// ascending order.
func FollowsText(title string, pairs []FollowsPair) string {
	byPlatform := map[Platform][]FollowsPair{}
	for _, p := range pairs {
		byPlatform[p.Latest.Platform] = append(byPlatform[p.Latest.Platform], p)
	}
	platforms := make([]Platform, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	for i, pl := range platforms {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(pl.Label())
		b.WriteString("\n")
		for _, pair := range byPlatform[pl] {
			cur := pair.Latest
			name := cur.Username
			if name == "" {
				name = cur.UID
			}
			fmt.Fprintf(&b, "%s: %d", name, cur.Followers)
			if pair.Prior != nil {
				delta := cur.Followers - pair.Prior.Followers
				since := time.Unix(pair.Prior.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
				fmt.Fprintf(&b, " (%+d since %s)", delta, since)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
