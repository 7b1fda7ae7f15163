package focus

import (
	"fmt"
	"regexp"
	"strings"

	"vigil/internal/audit"
)

// SnippetMaxLines bounds the head+tail excerpt produced for snippet-tier
// files during pre-pass enrichment.
const SnippetMaxLines = 50

var (
	defRe = regexp.MustCompile(
		`^(class |def |async def |func |type |const |var |function |export\s+(default\s+)?(class|function|const|let|var)\s)`)
	commentRe = regexp.MustCompile(`^\s*(#|//|/\*|"""|''')`)
)

// ExtractSnippet returns a representative excerpt of a file: the first
// and last SnippetMaxLines/2 lines with an explicit omission marker in
// between. Files already within the bound are returned unchanged.
func ExtractSnippet(f audit.FileContent) audit.FileContent {
	lines := strings.Split(f.Content, "\n")
	if len(lines) <= SnippetMaxLines {
		return f
	}

	half := SnippetMaxLines / 2
	omitted := len(lines) - SnippetMaxLines
	out := make([]string, 0, SnippetMaxLines+1)
	out = append(out, lines[:half]...)
	out = append(out, fmt.Sprintf("# ... [%d lines omitted] ...", omitted))
	out = append(out, lines[len(lines)-half:]...)

	return audit.FileContent{Path: f.Path, Content: strings.Join(out, "\n")}
}

// ExtractFileMap reduces a file to its structural map: top-level
// definition lines and comments. When no definition-like lines are found
// it falls back to the first 20 lines; a retained file must never be
// sent with empty content.
func ExtractFileMap(f audit.FileContent) audit.FileContent {
	lines := strings.Split(f.Content, "\n")
	var mapped []string
	for _, line := range lines {
		if defRe.MatchString(strings.TrimSpace(line)) || commentRe.MatchString(line) {
			mapped = append(mapped, line)
		}
	}

	if len(mapped) == 0 {
		if len(lines) > 20 {
			lines = lines[:20]
		}
		mapped = lines
	}

	return audit.FileContent{
		Path:    f.Path,
		Content: "# [file map — definitions only]\n" + strings.Join(mapped, "\n"),
	}
}
