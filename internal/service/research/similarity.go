package research

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// followUpPrefix is stripped before comparing follow-up subtasks, so the
// shared "Follow-up research (iteration N):" label does not make distinct
// gaps look alike.
var followUpPrefix = regexp.MustCompile(`(?i)^follow-up research \(iteration \d+\):\s*`)

// tokens splits text into lowercase alphanumeric tokens.
func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard returns the token-set similarity of two strings in [0,1].
func Jaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// subtaskKey is the text compared when deduplicating subtasks.
func subtaskKey(focus, query string) string {
	return followUpPrefix.ReplaceAllString(strings.TrimSpace(focus), "") + " " + query
}

// duplicateOf returns the subtask in history whose focus is near-identical
// to candidate, or nil.
func duplicateOf(candidate core.Subtask, history []core.Subtask, threshold float64) *core.Subtask {
	key := subtaskKey(candidate.Focus, candidate.Query)
	for i := range history {
		if Jaccard(key, subtaskKey(history[i].Focus, history[i].Query)) >= threshold {
			return &history[i]
		}
	}
	return nil
}
