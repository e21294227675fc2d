package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")

// extractJSON returns the JSON object in a model reply: a fenced block
// when present, otherwise the outermost braces.
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) >= 2 {
		return m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// decodeReply unmarshals the JSON object of a model reply into out.
func decodeReply(reply string, out interface{}) error {
	raw := extractJSON(reply)
	if raw == "" {
		return malformed("reply contains no json object", nil)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return malformed("reply is not valid json", err)
	}
	return nil
}
