package forge

import (
	"fmt"
	"strings"

	"selfforge/internal/index"
)

// BuildSourceSummary renders the indexed tree for prompt use: per file the
// symbol lists plus a bounded content excerpt, never full bodies, so prompt
// size stays proportional to tree size rather than code size.
func BuildSourceSummary(store *index.Store, excerptLimit int) string {
	if excerptLimit <= 0 {
		excerptLimit = 500
	}

	var b strings.Builder
	for _, path := range store.Paths() {
		sf, ok := store.Get(path)
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "### %s (%d lines)\n", sf.Path, sf.LineCount)
		if len(sf.Classes) > 0 {
			fmt.Fprintf(&b, "classes: %s\n", strings.Join(sf.Classes, ", "))
		}
		if len(sf.Functions) > 0 {
			fmt.Fprintf(&b, "functions: %s\n", strings.Join(sf.Functions, ", "))
		}

		excerpt := sf.Content
		if len(excerpt) > excerptLimit {
			excerpt = excerpt[:excerptLimit] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "```\n%s\n```\n\n", excerpt)
	}
	return b.String()
}

// buildGenerationPrompt serializes the conversation and source summary into
// the structured instruction the oracle answers with a change-set.
func buildGenerationPrompt(conversation []Turn, summary string) string {
	var convo strings.Builder
	for _, turn := range conversation {
		fmt.Fprintf(&convo, "[%s] %s\n", turn.Role, turn.Content)
	}

	return fmt.Sprintf(`You are the self-extension engine of a desktop assistant. The user asked for a
new capability. Design the minimal source changes that implement it.

## Conversation
%s
## Current source tree
%s
## Instructions
Respond with ONLY a JSON object, no prose, in this exact shape:

{
  "changes": [
    {
      "filePath": "relative file path or bare file name",
      "operation": "addMethod" | "updateMethod" | "insertAfter" | "replaceSection" | "createFile",
      "method": "method name (updateMethod only)",
      "content": "code to add/replace/insert",
      "search": "exact text to replace (replaceSection only)",
      "insertAfter": "exact anchor text (insertAfter only)"
    }
  ],
  "description": "one sentence describing the feature",
  "needsRestart": true or false
}

Rules:
- Anchors must be copied verbatim from the source excerpts above.
- addMethod content is a complete method body, indented for a class.
- Set needsRestart to true only when the change touches startup wiring.`,
		convo.String(), summary)
}
