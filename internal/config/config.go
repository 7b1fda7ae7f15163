// Package config loads vigil.yml and resolves the audit schedule.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFile is the config filename looked up in the working
// directory when no explicit path is given.
const DefaultConfigFile = "vigil.yml"

// AllFocusNames is the expansion of the "all" schedule entry.
var AllFocusNames = []string{
	"security",
	"docs",
	"patterns",
	"testing",
	"hygiene",
	"dependencies",
	"performance",
}

// Frames are the organizing lenses a schedule entry may name instead of
// individual focus areas.
var Frames = map[string][]string{
	"does_it_work":        {"security", "testing"},
	"does_it_feel_right":  {},
	"can_everyone_use_it": {},
	"does_it_last":        {"patterns", "hygiene", "docs", "dependencies"},
	"can_we_prove_it":     {"performance"},
}

// FrameLabels are the display questions for each frame.
var FrameLabels = map[string]string{
	"does_it_work":        "Does it work?",
	"does_it_feel_right":  "Does it feel right?",
	"can_everyone_use_it": "Can everyone use it?",
	"does_it_last":        "Does it last?",
	"can_we_prove_it":     "Can we prove it?",
}

// WeekdayNames in schedule order, monday first.
var WeekdayNames = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

var defaultSchedule = map[string]string{
	"monday":    "security",
	"tuesday":   "patterns",
	"wednesday": "docs",
	"thursday":  "hygiene",
	"friday":    "performance",
	"saturday":  "dependencies",
	"sunday":    "off",
}

// RepoConfig describes one audited repository.
type RepoConfig struct {
	Name             string   `mapstructure:"name"`
	Path             string   `mapstructure:"path"`
	ProviderRotation []string `mapstructure:"provider_rotation"`
	Exclude          []string `mapstructure:"exclude"`
}

// BudgetConfig bounds per-run spend.
type BudgetConfig struct {
	MaxPerRunUSD      float64 `mapstructure:"max_per_run_usd"`
	AlertThresholdUSD float64 `mapstructure:"alert_threshold_usd"`
}

// DecisionConfig controls the decision store.
type DecisionConfig struct {
	ExpiryDays int    `mapstructure:"expiry_days"`
	Path       string `mapstructure:"path"`
}

// PrepassConfig controls pre-pass file classification.
type PrepassConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	ThresholdTokens int  `mapstructure:"threshold_tokens"`
	Auto            bool `mapstructure:"auto"`
}

// PrivacyConfig controls what leaves the machine.
type PrivacyConfig struct {
	RedactSecrets bool     `mapstructure:"redact_secrets"`
	RedactPaths   []string `mapstructure:"redact_paths"`
}

// Config is the full vigil.yml contents with defaults applied.
type Config struct {
	Repos      []RepoConfig               `mapstructure:"repos"`
	Schedule   map[string]any             `mapstructure:"schedule"`
	Frames     map[string]map[string]bool `mapstructure:"frames"`
	Budget     BudgetConfig               `mapstructure:"budget"`
	Decisions  DecisionConfig             `mapstructure:"decisions"`
	Prepass    PrepassConfig              `mapstructure:"prepass"`
	Privacy    PrivacyConfig              `mapstructure:"privacy"`
	ReportsDir string                     `mapstructure:"reports_dir"`
	Model      string                     `mapstructure:"model"`
}

// Load reads the config file. A missing file yields pure defaults; a
// present but malformed file is a hard error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i, r := range cfg.Repos {
		if r.Name == "" || r.Path == "" {
			return nil, fmt.Errorf("repo %d: name and path are required", i)
		}
		cfg.Repos[i].Path = expandHome(r.Path)
		if len(r.ProviderRotation) == 0 {
			cfg.Repos[i].ProviderRotation = []string{"gemini"}
		}
	}

	if cfg.Schedule == nil {
		cfg.Schedule = map[string]any{}
	}
	// Fill any weekday the user's schedule left out.
	for day, entry := range defaultSchedule {
		if _, ok := cfg.Schedule[day]; !ok {
			cfg.Schedule[day] = entry
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("budget.max_per_run_usd", 2.0)
	v.SetDefault("budget.alert_threshold_usd", 1.5)
	v.SetDefault("decisions.expiry_days", 90)
	v.SetDefault("decisions.path", ".vigil/decisions.jsonl")
	v.SetDefault("prepass.enabled", false)
	v.SetDefault("prepass.threshold_tokens", 600_000)
	v.SetDefault("prepass.auto", true)
	v.SetDefault("privacy.redact_secrets", true)
	v.SetDefault("reports_dir", ".vigil/reports")
	v.SetDefault("model", "claude-sonnet-4-5")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// NormalizeFocus expands a focus value into focus area names. Handles
// "off" (YAML may have parsed it as false), "all", frame names, and
// comma-separated combinations.
func NormalizeFocus(raw any) []string {
	switch val := raw.(type) {
	case nil:
		return nil
	case bool:
		// YAML parses bare `off` as false and `on` as true.
		if !val {
			return nil
		}
		return append([]string(nil), AllFocusNames...)
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, resolveEntry(fmt.Sprint(item))...)
		}
		return out
	case []string:
		var out []string
		for _, item := range val {
			out = append(out, resolveEntry(item)...)
		}
		return out
	default:
		return resolveEntry(fmt.Sprint(val))
	}
}

func resolveEntry(entry string) []string {
	entry = strings.TrimSpace(entry)
	switch {
	case entry == "" || entry == "off":
		return nil
	case entry == "all":
		return append([]string(nil), AllFocusNames...)
	case strings.Contains(entry, ","):
		var out []string
		for _, part := range strings.Split(entry, ",") {
			out = append(out, resolveEntry(part)...)
		}
		return out
	}
	if focuses, ok := Frames[entry]; ok {
		return append([]string(nil), focuses...)
	}
	return []string{entry}
}

// FocusForDay resolves the schedule entry for a weekday name, applying
// frame overrides when the entry names a frame.
func (c *Config) FocusForDay(day string) []string {
	entry, ok := c.Schedule[day]
	if !ok {
		return nil
	}

	if name, isString := entry.(string); isString {
		if base, isFrame := Frames[name]; isFrame {
			overrides := c.Frames[name]
			var out []string
			for _, focus := range base {
				if enabled, present := overrides[focus]; present && !enabled {
					continue
				}
				out = append(out, focus)
			}
			return out
		}
	}
	return NormalizeFocus(entry)
}

// TodayFocus resolves the schedule for the given time's weekday.
func (c *Config) TodayFocus(now time.Time) []string {
	return c.FocusForDay(weekdayNames[now.Weekday()])
}

// Repo looks up a repository by name.
func (c *Config) Repo(name string) (RepoConfig, bool) {
	for _, r := range c.Repos {
		if r.Name == name {
			return r, true
		}
	}
	return RepoConfig{}, false
}

// ProviderForRepo returns the provider for a repo at the given rotation
// index. Unknown repos fall back to gemini.
func (c *Config) ProviderForRepo(repoName string, runIndex int) string {
	repo, ok := c.Repo(repoName)
	if !ok || len(repo.ProviderRotation) == 0 {
		return "gemini"
	}
	return repo.ProviderRotation[runIndex%len(repo.ProviderRotation)]
}

// CountActiveDays counts weekdays whose schedule entry resolves to at
// least one focus area.
func (c *Config) CountActiveDays() int {
	count := 0
	for _, day := range weekdayNames {
		if len(c.FocusForDay(day)) > 0 {
			count++
		}
	}
	return count
}
