package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BlockRule decides whether a target refuses a post.
//
// Two forms are accepted:
//   - an absolute instant (RFC3339, "2006-01-02 15:04[:05]", "2006-01-02" or
//     epoch seconds): posts created before it are blocked
//   - a daily window "HH:MM-HH:MM": posts created inside it are blocked; the
//     window may wrap midnight
type BlockRule struct {
	raw   string
	until time.Time
	// daily window in minutes since midnight; from == to means unset
	from, to int
	daily    bool
	loc      *time.Location
}

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseBlockRule parses raw in loc (nil means UTC). An empty raw yields a
// rule that never blocks.
func ParseBlockRule(raw string, loc *time.Location) (BlockRule, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	r := BlockRule{raw: s, loc: loc}
	if s == "" {
		return r, nil
	}

	if a, b, ok := cutWindow(s); ok {
		from, err1 := parseClock(a)
		to, err2 := parseClock(b)
		if err1 != nil || err2 != nil {
			return BlockRule{}, fmt.Errorf("block_until %q: invalid daily window", raw)
		}
		if from == to {
			return BlockRule{}, fmt.Errorf("block_until %q: empty daily window", raw)
		}
		r.daily, r.from, r.to = true, from, to
		return r, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		r.until = time.Unix(n, 0)
		return r, nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			r.until = t
			return r, nil
		}
	}
	return BlockRule{}, fmt.Errorf("block_until %q: expected a date, RFC3339 time or HH:MM-HH:MM", raw)
}

func cutWindow(s string) (string, string, bool) {
	for _, sep := range []string{"..", "-"} {
		if a, b, ok := strings.Cut(s, sep); ok && strings.Contains(a, ":") && strings.Contains(b, ":") && !strings.Contains(b, "-") {
			return strings.TrimSpace(a), strings.TrimSpace(b), true
		}
	}
	return "", "", false
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (r BlockRule) IsZero() bool { return r.raw == "" }

func (r BlockRule) String() string { return r.raw }

// Blocked reports whether a post created at postTime is refused.
func (r BlockRule) Blocked(postTime time.Time) bool {
	switch {
	case r.raw == "" || postTime.IsZero():
		return false
	case r.daily:
		t := postTime.In(r.loc)
		m := t.Hour()*60 + t.Minute()
		if r.from < r.to {
			return m >= r.from && m < r.to
		}
		return m >= r.from || m < r.to
	default:
		return postTime.Before(r.until)
	}
}
