package transport

import "strings"

// SplitText cuts s into chunks of at most limit runes. A cut prefers the
// last newline in the window unless that would leave a chunk shorter than a
// third of the limit. Newlines at chunk edges are dropped.
func SplitText(s string, limit int) []string {
	if s == "" {
		return nil
	}
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
