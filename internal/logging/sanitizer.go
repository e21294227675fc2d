package logging

import (
	"regexp"
)

// Sanitizer redacts provider credentials from log messages.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// OpenAI and LiteLLM virtual keys
		`sk-[A-Za-z0-9_-]{20,}`,
		// Perplexity
		`pplx-[A-Za-z0-9]{20,}`,
		// Google AI
		`AIza[a-zA-Z0-9_-]{35}`,
		// Slack bot/webhook tokens used by review channels
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		`hooks\.slack\.com/services/[A-Za-z0-9/]+`,
		// Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// api_key=..., "api-key": "..."
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{16,}`,
		// key or token query parameters in URLs
		`(?i)[?&](key|token|access_token)=[^&\s"']+`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
