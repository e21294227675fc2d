package research

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

var (
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?\s*%|\b\d{2,}(\.\d+)?\b`)
)

var metricTerms = []string{
	"accuracy", "precision", "recall", "efficiency", "rate", "performance",
	"percent", "measured", "increase", "decrease", "reduction", "improvement",
	"capacity", "density", "throughput", "latency",
}

var methodTerms = []string{
	"method", "methodology", "experiment", "study", "trial", "sample",
	"analysis", "survey", "dataset", "benchmark", "cohort",
}

// shortContentChars is the length under which content loses quality credit.
const shortContentChars = 200

// leadScore ranks a search lead by source authority, recency and snippet
// specificity. Higher is better.
func leadScore(l core.Lead, queryTerms map[string]struct{}, academic []string, now time.Time) float64 {
	score := 0.0

	host := core.HostOf(l.URL)
	switch {
	case core.MatchesDomain(host, academic):
		score += 3
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"), strings.Contains(host, ".gov."), strings.Contains(host, ".ac."):
		score += 2
	case strings.HasSuffix(host, ".org"):
		score += 0.5
	}

	if year, ok := leadYear(l); ok {
		switch age := now.Year() - year; {
		case age <= 2:
			score += 2
		case age <= 5:
			score += 1
		}
	}

	snippet := strings.ToLower(l.Snippet)
	if numberPattern.MatchString(snippet) {
		score++
	}
	if strings.Contains(snippet, "%") {
		score += 0.5
	}
	if utf8.RuneCountInString(snippet) > 120 {
		score += 0.5
	}
	if len(queryTerms) > 0 {
		hits := 0
		for t := range tokens(l.Title + " " + l.Snippet) {
			if _, ok := queryTerms[t]; ok {
				hits++
			}
		}
		score += 2 * float64(hits) / float64(len(queryTerms))
	}
	return score
}

// leadYear finds the publication year in the lead date, url or snippet.
func leadYear(l core.Lead) (int, bool) {
	for _, s := range []string{l.Date, l.URL, l.Snippet} {
		if m := yearPattern.FindString(s); m != "" {
			y, err := strconv.Atoi(m)
			if err == nil {
				return y, true
			}
		}
	}
	return 0, false
}

// qualityTier maps the content quality heuristic onto integer tiers 0-5.
func qualityTier(content, sourceURL string, mode core.SearchMode, verified bool, academic []string) int {
	score := 0.5
	if mode == core.ModeAcademic || core.MatchesDomain(core.HostOf(sourceURL), academic) {
		score += 0.15
	}
	if verified {
		score += 0.1
	}
	lower := strings.ToLower(content)
	if numberPattern.MatchString(lower) {
		score += 0.15
	}
	if containsAny(lower, metricTerms) {
		score += 0.1
	}
	if containsAny(lower, methodTerms) {
		score += 0.05
	}
	if utf8.RuneCountInString(content) < shortContentChars {
		score -= 0.1
	}
	score = math.Max(0, math.Min(1, score))
	return int(math.Round(score * core.MaxQualityScore))
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n runes on a word boundary where possible.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	cut := string([]rune(s)[:n-1])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
