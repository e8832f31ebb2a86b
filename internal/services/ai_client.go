package services

import (
	"context"
	"errors"
)

// ErrGenerationFailed marks empty or unparseable model output. The
// orchestrator retries it a bounded number of times before failing the job.
var ErrGenerationFailed = errors.New("generation failed")

// AIClient is the external generation dependency. Implementations must not
// touch the document store.
type AIClient interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
	// GenerateJSON asks for a JSON-only reply and unmarshals the first
	// balanced object span into out.
	GenerateJSON(ctx context.Context, system string, user string, out any) error
}

// extractJSONObject returns the first balanced {...} span of s. Models
// occasionally wrap JSON in prose or code fences; the prompt demands bare
// JSON and this is the best-effort recovery.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
