// Package forge turns a feature conversation into a concrete change-set and
// drives it through the patch engine. This is self-modification at its most
// literal: the assistant editing its own source tree.
package forge

import (
	"encoding/json"
	"fmt"
	"strings"

	"selfforge/internal/patch"
)

// Turn is one conversation message, in the shared role/content wire format.
type Turn struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// ChangeSet is the oracle's proposed batch of patch operations plus metadata.
type ChangeSet struct {
	Changes      []patch.Operation `json:"changes"`
	Description  string            `json:"description"`
	NeedsRestart bool              `json:"needsRestart"`
}

// ParseChangeSet extracts the first JSON object from a raw oracle reply and
// decodes it. Replies wrapped in prose or code fences are handled; a reply
// without a usable object is an error the caller turns into a fallback.
func ParseChangeSet(raw string) (*ChangeSet, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" || jsonStr == "{}" {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var cs ChangeSet
	if err := json.Unmarshal([]byte(jsonStr), &cs); err != nil {
		return nil, fmt.Errorf("change-set decode failed: %w", err)
	}
	if len(cs.Changes) == 0 {
		return nil, fmt.Errorf("change-set has no changes")
	}

	for _, op := range cs.Changes {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("invalid change: %w", err)
		}
	}

	if strings.TrimSpace(cs.Description) == "" {
		cs.Description = "Generated feature change-set"
	}
	return &cs, nil
}

// ExtractJSON extracts the first balanced JSON object or array from a
// potentially mixed-format response.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		start = strings.Index(text, "[")
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	startChar := rune(text[start])
	endChar := '}'
	if startChar == '[' {
		endChar = ']'
	}

	for i := start; i < len(text); i++ {
		ch := rune(text[i])

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if ch == startChar || ch == '{' || ch == '[' {
				depth++
			} else if ch == endChar || ch == '}' || ch == ']' {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return ""
}
