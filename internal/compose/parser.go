package compose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/book-expert/reflection-service/internal/core"
)

// ParseDigest parses a personality-summary completion into a digest. This is
// the only place the structured-response format assumption lives: callers
// get either a non-empty digest or core.ErrMalformedModelOutput.
//
// Models sometimes wrap JSON in a markdown fence; that wrapper is stripped
// before parsing. Anything else non-conforming is rejected, not guessed at.
func ParseDigest(raw string) (core.PersonalityDigest, error) {
	cleaned := stripFence(strings.TrimSpace(raw))

	var digest core.PersonalityDigest

	err := json.Unmarshal([]byte(cleaned), &digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrMalformedModelOutput, firstLine(raw))
	}

	if len(digest) == 0 {
		return nil, fmt.Errorf("%w: empty trait object", core.ErrMalformedModelOutput)
	}

	for trait, explanation := range digest {
		if strings.TrimSpace(trait) == "" || strings.TrimSpace(explanation) == "" {
			return nil, fmt.Errorf("%w: blank trait or explanation", core.ErrMalformedModelOutput)
		}
	}

	return digest, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")

	const maxLen = 120

	if len(line) > maxLen {
		return line[:maxLen]
	}

	return line
}
