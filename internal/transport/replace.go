package transport

import (
	"fmt"
	"regexp"
)

// ReplaceRule rewrites outgoing text. Replacement uses regexp expansion
// syntax ($1, ${name}).
type ReplaceRule struct {
	re   *regexp.Regexp
	repl string
}

// CompileReplaceRules compiles [[pattern, replacement], ...] pairs. A pair
// with a missing replacement deletes the match.
func CompileReplaceRules(pairs [][]string) ([]ReplaceRule, error) {
	out := make([]ReplaceRule, 0, len(pairs))
	for i, p := range pairs {
		if len(p) == 0 || len(p) > 2 {
			return nil, fmt.Errorf("replace_regex[%d]: expected [pattern, replacement]", i)
		}
		re, err := regexp.Compile(p[0])
		if err != nil {
			return nil, fmt.Errorf("replace_regex[%d]: %w", i, err)
		}
		r := ReplaceRule{re: re}
		if len(p) == 2 {
			r.repl = p[1]
		}
		out = append(out, r)
	}
	return out, nil
}

// ApplyReplaceRules runs every rule in order.
func ApplyReplaceRules(rules []ReplaceRule, text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}
