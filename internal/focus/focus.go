// Package focus defines the audit focus areas (named lenses over a
// repository) and the file selector that gathers their union of glob
// patterns into an ordered, deduplicated file list.
package focus

import (
	"fmt"
	"sort"
	"strings"
)

// Area is one audit lens: which files it looks at and what it asks for.
type Area struct {
	Name        string
	Description string
	Patterns    []string
	Prompt      string
}

var registry = map[string]Area{
	"security": {
		Name:        "security",
		Description: "Security vulnerabilities, secrets, permissions, dependency issues",
		Patterns: []string{
			"**/*.yml", "**/*.yaml", "**/*.toml", "**/*.json",
			"**/*.env*", "**/.env*",
			"**/Dockerfile*", "**/docker-compose*", "**/.dockerignore",
			"**/*.sh", "**/*.bash",
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.go", "**/*.rs", "**/*.rb",
			"**/.gitignore", "**/.github/**/*.yml",
			"**/package.json", "**/package-lock.json",
			"**/requirements*.txt", "**/Pipfile", "**/Cargo.toml",
			"**/go.mod", "**/Gemfile",
		},
		Prompt: securityPrompt,
	},
	"patterns": {
		Name:        "patterns",
		Description: "Architecture drift, inconsistent idioms, duplicated logic",
		Patterns: []string{
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.go", "**/*.rs",
		},
		Prompt: patternsPrompt,
	},
	"docs": {
		Name:        "docs",
		Description: "Stale docs, missing setup steps, README drift, undocumented behavior",
		Patterns: []string{
			"**/*.md", "**/*.rst", "**/*.txt",
			"**/docs/**",
			"**/package.json", "**/pyproject.toml", "**/go.mod",
		},
		Prompt: docsPrompt,
	},
	"hygiene": {
		Name:        "hygiene",
		Description: "Dead code, orphaned files, stale config, cleanup opportunities",
		Patterns: []string{
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.go", "**/*.rs",
			"**/*.yml", "**/*.yaml", "**/*.toml", "**/*.json",
			"**/*.sh", "**/*.md",
			"**/.gitignore", "**/.github/**",
			"**/Dockerfile*", "**/docker-compose*",
		},
		Prompt: hygienePrompt,
	},
	"testing": {
		Name:        "testing",
		Description: "Test coverage gaps, untested critical paths, flaky patterns, missing edge cases",
		Patterns: []string{
			"**/*.test.*", "**/*.spec.*", "**/__tests__/**",
			"**/test_*.py", "**/tests/**",
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.go", "**/*.rs",
			"**/jest.config.*", "**/vitest.config.*",
			"**/pytest.ini", "**/pyproject.toml", "**/setup.cfg",
		},
		Prompt: testingPrompt,
	},
	"dependencies": {
		Name:        "dependencies",
		Description: "Outdated packages, security advisories, unused deps, version conflicts",
		Patterns: []string{
			"**/package.json", "**/package-lock.json", "**/pnpm-lock.yaml", "**/yarn.lock",
			"**/requirements*.txt", "**/Pipfile", "**/Pipfile.lock",
			"**/pyproject.toml", "**/poetry.lock",
			"**/Cargo.toml", "**/Cargo.lock",
			"**/go.mod", "**/go.sum",
			"**/Gemfile", "**/Gemfile.lock",
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.go",
		},
		Prompt: dependenciesPrompt,
	},
	"performance": {
		Name:        "performance",
		Description: "Missing caching, expensive patterns, bundle size, query efficiency",
		Patterns: []string{
			"**/*.py", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.go", "**/*.rs",
			"**/*.yml", "**/*.yaml", "**/*.toml", "**/*.json",
			"**/migrations/**", "**/*.sql",
			"**/Dockerfile*", "**/docker-compose*",
			"**/webpack.config.*", "**/vite.config.*", "**/next.config.*",
			"**/tsconfig*.json",
		},
		Prompt: performancePrompt,
	},
}

// Get returns the named focus area.
func Get(name string) (Area, error) {
	a, ok := registry[name]
	if !ok {
		return Area{}, fmt.Errorf("unknown focus area: %s. Available: %s", name, strings.Join(Names(), ", "))
	}
	return a, nil
}

// Names returns all focus area names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps focus names to areas, failing fast on the first unknown name.
func Resolve(names []string) ([]Area, error) {
	areas := make([]Area, 0, len(names))
	for _, name := range names {
		a, err := Get(name)
		if err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, nil
}

// Label renders a display label for a focus group: "security+performance".
func Label(names []string) string {
	return strings.Join(names, "+")
}

// BuildCombinedPrompt assembles the system prompt for one or more focus
// areas. A single area contributes its prompt unchanged; multiple areas
// get a self-tagging header so each finding carries a focus field.
func BuildCombinedPrompt(areas []Area) string {
	if len(areas) == 1 {
		return areas[0].Prompt
	}

	names := make([]string, len(areas))
	for i, a := range areas {
		names[i] = a.Name
	}

	var b strings.Builder
	b.WriteString("You are performing a combined codebase audit covering multiple focus areas. ")
	b.WriteString("For each finding, include a `focus` field indicating which focus area (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") the finding belongs to.\n\n")

	for _, a := range areas {
		fmt.Fprintf(&b, "## Focus Area: %s\n\n%s\n\n", a.Name, a.Prompt)
	}
	return b.String()
}
