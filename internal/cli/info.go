package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/config"
	"vigil/internal/decisions"
	"vigil/internal/focus"
	"vigil/internal/ledger"
	"vigil/internal/pricing"
	"vigil/internal/runner"
)

func (a *app) estimateCmd() *cobra.Command {
	var repoName, focusOverride, providerName string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate audit cost before running (no API keys needed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var focusNames []string
			if focusOverride != "" {
				focusNames = config.NormalizeFocus(focusOverride)
			} else {
				focusNames = a.cfg.TodayFocus(time.Now())
			}
			if len(focusNames) == 0 {
				fmt.Fprintln(out, "Today is scheduled as off. Use --focus to override.")
				return nil
			}
			areas, err := focus.Resolve(focusNames)
			if err != nil {
				return err
			}

			repos := a.cfg.Repos
			if repoName != "" {
				repo, ok := a.cfg.Repo(repoName)
				if !ok {
					return fmt.Errorf("unknown repo: %s", repoName)
				}
				repos = []config.RepoConfig{repo}
			}
			if len(repos) == 0 {
				fmt.Fprintln(out, "No repos configured. Add repos to vigil.yml.")
				return nil
			}

			for _, repo := range repos {
				files, err := focus.GatherCombined(areas, repo.Path, repo.Exclude, a.logger)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintf(out, "\n  %s: No files found matching focus areas.\n", repo.Name)
					continue
				}

				pname := providerName
				if pname == "" {
					pname = a.cfg.ProviderForRepo(repo.Name, 0)
				}
				modelKey := pricing.ResolveModelKey(pname, a.cfg.Model)

				fmt.Fprintln(out, pricing.BuildEstimateReport(
					repo.Name, focusNames, files, pname, modelKey, a.cfg.CountActiveDays()))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&repoName, "repo", "r", "", "estimate for a specific repo (default: all)")
	cmd.Flags().StringVarP(&focusOverride, "focus", "f", "", "focus area(s): name, comma-separated, or 'all'")
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider (default: from config)")
	return cmd
}

func (a *app) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show the weekly audit schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Weekly Schedule:")
			fmt.Fprintln(out)

			today := strings.ToLower(time.Now().Weekday().String())
			for _, day := range config.WeekdayNames {
				display, active := a.scheduleDisplay(day)

				marker := ""
				if day == today {
					marker = " ← today"
				}
				icon := "  "
				if active {
					icon = "▶ "
				}
				titled := strings.ToUpper(day[:1]) + day[1:]
				fmt.Fprintf(out, "  %s%-12s %s%s\n", icon, titled, display, marker)
			}
			return nil
		},
	}
}

func (a *app) scheduleDisplay(day string) (string, bool) {
	entry := a.cfg.Schedule[day]
	if name, isString := entry.(string); isString {
		if label, isFrame := config.FrameLabels[name]; isFrame {
			focuses := a.cfg.FocusForDay(day)
			if len(focuses) == 0 {
				return label + " (none active)", false
			}
			return fmt.Sprintf("%s (%s)", label, strings.Join(focuses, ", ")), true
		}
	}

	names := a.cfg.FocusForDay(day)
	if len(names) == 0 {
		return "off", false
	}
	return strings.Join(names, ", "), true
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current configuration and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Vigil v%s\n\n", runner.Version)

			fmt.Fprintln(out, "Repos:")
			for _, repo := range a.cfg.Repos {
				fmt.Fprintf(out, "  %s: %s (%s)\n",
					repo.Name, repo.Path, strings.Join(repo.ProviderRotation, ", "))
			}
			if len(a.cfg.Repos) == 0 {
				fmt.Fprintln(out, "  (none configured)")
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Focus areas:")
			for _, name := range focus.Names() {
				area, _ := focus.Get(name)
				fmt.Fprintf(out, "  %s: %s\n", name, area.Description)
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Model: %s\n", a.cfg.Model)
			fmt.Fprintf(out, "Decisions: %s\n", a.cfg.Decisions.Path)
			fmt.Fprintf(out, "Reports: %s\n", a.cfg.ReportsDir)

			if decs, err := decisions.Load(a.cfg.Decisions.Path); err == nil && len(decs) > 0 {
				fmt.Fprintf(out, "  %d decisions recorded\n", len(decs))
			}

			fmt.Fprintln(out)
			today := strings.ToLower(time.Now().Weekday().String())
			display, _ := a.scheduleDisplay(today)
			fmt.Fprintf(out, "Today's focus: %s\n", display)

			printCostSummary(out)
			return nil
		},
	}
}

func (a *app) costsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "costs",
		Short: "Show audit spend from the cost ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			printCostSummary(cmd.OutOrStdout())
			return nil
		},
	}
}

func printCostSummary(out io.Writer) {
	entries, err := ledger.New("").LastNDays(30)
	if err != nil || len(entries) == 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Cost (last 30 days):")
		fmt.Fprintln(out, "  No audit history yet")
		return
	}

	var totalIn, totalOut, cacheRead, cacheWrite int
	var totalCost float64
	var timestamps []time.Time
	for _, e := range entries {
		totalIn += e.InputTokens
		totalOut += e.OutputTokens
		cacheRead += e.CacheReadTokens
		cacheWrite += e.CacheWriteTokens
		totalCost += e.CostEstimateUSD
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			timestamps = append(timestamps, ts)
		}
	}

	daysWithData := 1
	if len(timestamps) > 1 {
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
		span := int(timestamps[len(timestamps)-1].Sub(timestamps[0]).Hours() / 24)
		if span > 1 {
			daysWithData = span
		}
	}
	projected := totalCost / float64(daysWithData) * 30
	avg := totalCost / float64(len(entries))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Cost (last 30 days):")
	fmt.Fprintf(out, "  Audits run:          %d\n", len(entries))
	fmt.Fprintf(out, "  Total input tokens:  %s\n", pricing.FormatTokens(totalIn))
	fmt.Fprintf(out, "  Total output tokens: %s\n", pricing.FormatTokens(totalOut))
	if cacheRead > 0 || cacheWrite > 0 {
		fmt.Fprintf(out, "  Cache read tokens:   %s\n", pricing.FormatTokens(cacheRead))
		fmt.Fprintf(out, "  Cache write tokens:  %s\n", pricing.FormatTokens(cacheWrite))
		if processed := totalIn + cacheRead; processed > 0 {
			fmt.Fprintf(out, "  Cache savings:       %.1f%% served from cache\n",
				float64(cacheRead)/float64(processed)*100)
		}
	}
	fmt.Fprintf(out, "  Estimated spend:     $%.2f\n", totalCost)
	fmt.Fprintf(out, "  Avg per audit:       $%.2f\n", avg)
	fmt.Fprintf(out, "  Projected monthly:   ~$%.2f\n", projected)

	sum := ledger.Summarize(entries)
	if len(sum.ByRepo) > 1 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  By repo:")
		for _, name := range sortedKeys(sum.ByRepo) {
			fmt.Fprintf(out, "    %-20s $%.2f\n", name, sum.ByRepo[name])
		}
	}
	if len(sum.ByProvider) > 1 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  By provider:")
		for _, name := range sortedKeys(sum.ByProvider) {
			fmt.Fprintf(out, "    %-20s $%.2f\n", name, sum.ByProvider[name])
		}
	}

	last := entries
	if len(last) > 5 {
		last = last[len(last)-5:]
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Last 5 audits:")
	for i := len(last) - 1; i >= 0; i-- {
		e := last[i]
		dateStr := "unknown"
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			dateStr = ts.Format("Jan 02")
		}
		fmt.Fprintf(out, "    %s  %-18s %-20s %3d files  %7s tok  $%.2f\n",
			dateStr, e.Focus, e.Model, e.FileCount,
			pricing.FormatTokens(e.InputTokens+e.OutputTokens), e.CostEstimateUSD)
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *app) reportCmd() *cobra.Command {
	var repoName, focusName string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the latest report",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if focusName != "" {
				pattern = "*-" + focusName
			}

			var paths []string
			repoDirs := []string{repoName}
			if repoName == "" {
				dirs, err := os.ReadDir(a.cfg.ReportsDir)
				if err != nil {
					return fmt.Errorf("no reports found in %s", a.cfg.ReportsDir)
				}
				repoDirs = repoDirs[:0]
				for _, d := range dirs {
					if d.IsDir() {
						repoDirs = append(repoDirs, d.Name())
					}
				}
			}
			for _, dir := range repoDirs {
				matches, _ := filepath.Glob(filepath.Join(a.cfg.ReportsDir, dir, pattern+".md"))
				paths = append(paths, matches...)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no reports found")
			}

			// Filenames start with the date, so the lexicographic max is
			// the newest within a repo dir.
			sort.Sort(sort.Reverse(sort.StringSlice(paths)))
			data, err := os.ReadFile(paths[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&repoName, "repo", "r", "", "show report for a specific repo")
	cmd.Flags().StringVarP(&focusName, "focus", "f", "", "show report for a specific focus area")
	return cmd
}
