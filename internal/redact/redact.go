package redact

import (
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"vigil/internal/audit"
)

const mask = "[REDACTED]"

// rules are regex heuristics for secret shapes that must never leave
// the machine. Provider-prefixed tokens come first, before the generic
// assignment patterns that would also match them.
var rules = []*regexp.Regexp{
	// provider keys: anthropic, openai, google, github, slack
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
	regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`),
	// aws access key id and secret key assignment
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
	// jwt, bearer token, private key block
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`),
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE KEY-----`),
	// generic key/secret/password assignments
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?([A-Za-z0-9/+=_-]{20,})["']?`),
	regexp.MustCompile(`(?i)(secret|token|password|passwd|credential)\s*[:=]\s*["']([^"']{8,})["']`),
	regexp.MustCompile(`(?i)(key|secret|token)\s*[:=]\s*["']?[0-9a-f]{32,}["']?`),
}

// Secrets replaces anything matching a secret rule with [REDACTED].
func Secrets(text string) string {
	for _, re := range rules {
		text = re.ReplaceAllString(text, mask)
	}
	return text
}

// PathBlocked reports whether a file path matches one of the configured
// redact_paths globs. Patterns support ** and are also tried against
// the bare filename so "**/.env" and ".env" behave alike.
func PathBlocked(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, filepath.Base(path)); err == nil && ok {
			return true
		}
	}
	return false
}

// Files applies the privacy policy to every gathered file: blocked
// paths lose their content entirely, everything else is scanned for
// secrets. The input slice is not mutated.
func Files(files []audit.FileContent, redactPaths []string) []audit.FileContent {
	out := make([]audit.FileContent, len(files))
	for i, f := range files {
		content := f.Content
		if PathBlocked(f.Path, redactPaths) {
			content = mask + " (file content withheld by path policy)\n"
		} else {
			content = Secrets(content)
		}
		out[i] = audit.FileContent{Path: f.Path, Content: content}
	}
	return out
}
