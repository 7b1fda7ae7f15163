package providers

import (
	"fmt"
	"strings"

	"vigil/internal/audit"
)

// findingSchemaJSON is the response schema shown to the model. Every
// variant sends the same contract so findings parse identically
// regardless of which judge produced them.
const findingSchemaJSON = `{
  "type": "object",
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "severity": {"type": "string", "enum": ["high", "medium", "low"]},
          "file": {"type": "string"},
          "line": {"type": ["integer", "null"]},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "suggestion": {"type": ["string", "null"]},
          "focus": {"type": ["string", "null"]}
        },
        "required": ["severity", "file", "title", "description"]
      }
    }
  },
  "required": ["findings"]
}`

// buildUserMessage assembles the user-turn content: decision context,
// the file set, and the response schema.
func buildUserMessage(files []audit.FileContent, decisionContext string) string {
	var b strings.Builder
	b.WriteString("Review the following codebase files and report any findings.\n\n")
	if decisionContext != "" {
		b.WriteString(decisionContext)
		b.WriteString("\n\n")
	}
	b.WriteString("## Files\n\n")
	b.WriteString(formatFiles(files))
	b.WriteString("\n\nRespond with a JSON object matching this schema:\n```json\n")
	b.WriteString(findingSchemaJSON)
	b.WriteString("\n```\n\nReturn ONLY the JSON object, no other text.")
	return b.String()
}

func formatFiles(files []audit.FileContent) string {
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, fmt.Sprintf("### `%s`\n```\n%s\n```", f.Path, f.Content))
	}
	return strings.Join(parts, "\n\n")
}

// maxTokensFor scales the output budget by focus-area count.
func maxTokensFor(opts SubmitOptions) int {
	n := opts.NumFocusAreas
	if n < 1 {
		n = 1
	}
	return 4096 * n
}
