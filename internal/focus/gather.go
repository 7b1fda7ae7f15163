package focus

import (
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"vigil/internal/audit"
)

// MaxFileSize is the per-file size ceiling. Files above it are presumed
// generated or vendored and are skipped.
const MaxFileSize = 50_000

// baselineExcludes are always excluded regardless of caller-supplied
// excludes: dependency caches, VCS metadata, build output.
var baselineExcludes = []string{
	"node_modules", ".git", "__pycache__", ".venv", "venv", "dist", "build", "vendor",
}

// GatherCombined walks the repository applying the union of glob
// patterns across the given focus areas. Iteration is deterministic:
// sorted patterns, then sorted matches per pattern; the first pattern to
// match a path wins. Unreadable files are skipped and logged, never
// fatal. A malformed pattern is a configuration error and fails fast.
func GatherCombined(areas []Area, root string, excludes []string, logger *zap.Logger) ([]audit.FileContent, error) {
	exclude := make([]string, 0, len(baselineExcludes)+len(excludes))
	exclude = append(exclude, baselineExcludes...)
	exclude = append(exclude, excludes...)

	patternSet := make(map[string]struct{})
	for _, area := range areas {
		for _, p := range area.Patterns {
			patternSet[p] = struct{}{}
		}
	}
	patterns := make([]string, 0, len(patternSet))
	for p := range patternSet {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var files []audit.FileContent

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)

		for _, rel := range matches {
			if _, dup := seen[rel]; dup {
				continue
			}
			if excluded(rel, exclude) {
				continue
			}
			info, err := fs.Stat(fsys, rel)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if info.Size() > MaxFileSize {
				continue
			}
			content, err := fs.ReadFile(fsys, rel)
			if err != nil {
				logger.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(err))
				continue
			}
			files = append(files, audit.FileContent{Path: rel, Content: string(content)})
			seen[rel] = struct{}{}
		}
	}

	return files, nil
}

func excluded(rel string, excludes []string) bool {
	for _, ex := range excludes {
		if ex != "" && strings.Contains(rel, ex) {
			return true
		}
	}
	return false
}
