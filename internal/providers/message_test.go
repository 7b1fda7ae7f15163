package providers

import (
	"strings"
	"testing"

	"vigil/internal/audit"
)

func testFiles() []audit.FileContent {
	return []audit.FileContent{
		{Path: "src/app.py", Content: "def main():\n    pass\n"},
	}
}

func TestBuildUserMessage(t *testing.T) {
	msg := buildUserMessage(testFiles(), "## Previously Reviewed Findings\n- x")

	if !strings.Contains(msg, "### `src/app.py`") {
		t.Error("message should contain file header")
	}
	if !strings.Contains(msg, "def main():") {
		t.Error("message should contain file content")
	}
	if !strings.Contains(msg, "Previously Reviewed Findings") {
		t.Error("message should contain decision context")
	}
	if !strings.Contains(msg, `"findings"`) {
		t.Error("message should contain the response schema")
	}
	if strings.Index(msg, "Previously Reviewed") > strings.Index(msg, "## Files") {
		t.Error("decision context should precede the file set")
	}
}

func TestBuildUserMessage_NoContext(t *testing.T) {
	msg := buildUserMessage(testFiles(), "")
	if strings.Contains(msg, "Previously Reviewed") {
		t.Error("empty context should add nothing")
	}
}

func TestMaxTokensFor(t *testing.T) {
	if got := maxTokensFor(SubmitOptions{}); got != 4096 {
		t.Errorf("default = %d, want 4096", got)
	}
	if got := maxTokensFor(SubmitOptions{NumFocusAreas: 3}); got != 12288 {
		t.Errorf("3 areas = %d, want 12288", got)
	}
}
