package providers

import (
	"strings"
	"testing"
)

func TestParseFindings_Valid(t *testing.T) {
	text := `{"findings": [
		{"severity": "high", "file": "src/app.py", "line": 42,
		 "title": "SQL injection", "description": "Unsanitized input in query",
		 "suggestion": "Use parameterized queries", "focus": "security"}
	]}`

	findings, err := ParseFindings(text, "patterns")
	if err != nil {
		t.Fatalf("ParseFindings error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Focus != "security" {
		t.Errorf("Focus = %q, want %q (model tag wins over default)", f.Focus, "security")
	}
	if f.Line == nil || *f.Line != 42 {
		t.Errorf("Line = %v, want 42", f.Line)
	}
	if f.ID == "" {
		t.Error("ID should be computed")
	}
}

func TestParseFindings_CodeFence(t *testing.T) {
	text := "Here are my findings:\n```json\n{\"findings\": []}\n```\nDone."
	findings, err := ParseFindings(text, "")
	if err != nil {
		t.Fatalf("ParseFindings error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("got %d findings, want 0", len(findings))
	}
}

func TestParseFindings_BareFence(t *testing.T) {
	text := "```\n{\"findings\": []}\n```"
	if _, err := ParseFindings(text, ""); err != nil {
		t.Fatalf("ParseFindings error: %v", err)
	}
}

func TestParseFindings_FocusBackfill(t *testing.T) {
	text := `{"findings": [
		{"severity": "low", "file": "a.go", "title": "t", "description": "d"}
	]}`
	findings, err := ParseFindings(text, "hygiene")
	if err != nil {
		t.Fatalf("ParseFindings error: %v", err)
	}
	if findings[0].Focus != "hygiene" {
		t.Errorf("Focus = %q, want backfilled %q", findings[0].Focus, "hygiene")
	}
}

func TestParseFindings_InvalidSeverity(t *testing.T) {
	text := `{"findings": [
		{"severity": "critical", "file": "a.go", "title": "t", "description": "d"}
	]}`
	_, err := ParseFindings(text, "")
	if err == nil || !strings.Contains(err.Error(), "invalid severity") {
		t.Errorf("expected invalid severity error, got %v", err)
	}
}

func TestParseFindings_MissingRequiredField(t *testing.T) {
	text := `{"findings": [
		{"severity": "high", "file": "", "title": "t", "description": "d"}
	]}`
	if _, err := ParseFindings(text, ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseFindings_NotJSON(t *testing.T) {
	if _, err := ParseFindings("I could not review these files.", ""); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestParseFindings_NilLine(t *testing.T) {
	text := `{"findings": [
		{"severity": "medium", "file": "a.go", "line": null, "title": "t", "description": "d"}
	]}`
	findings, err := ParseFindings(text, "")
	if err != nil {
		t.Fatalf("ParseFindings error: %v", err)
	}
	if findings[0].Line != nil {
		t.Errorf("Line = %v, want nil", findings[0].Line)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"{}", "{}"},
		{"prose ```json\n{\"a\": 1}\n``` trailing", `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
