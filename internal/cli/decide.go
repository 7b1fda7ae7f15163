package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/audit"
	"vigil/internal/decisions"
	"vigil/internal/state"
)

var decisionActions = map[string]audit.DecisionType{
	"accept":      audit.DecisionAccepted,
	"dismiss":     audit.DecisionDismissed,
	"intentional": audit.DecisionIntentional,
}

func (a *app) decideCmd() *cobra.Command {
	var action, reason, by string
	cmd := &cobra.Command{
		Use:   "decide <finding-id>",
		Short: "Record a decision about a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decisionType, ok := decisionActions[action]
			if !ok {
				return fmt.Errorf("invalid action %q (accept, dismiss, or intentional)", action)
			}
			if reason == "" {
				return fmt.Errorf("a reason is required")
			}

			d := audit.Decision{
				FindingID: args[0],
				Decision:  decisionType,
				Reason:    reason,
				Date:      time.Now().Format("2006-01-02"),
				By:        by,
			}
			if err := decisions.Append(a.cfg.Decisions.Path, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Decision recorded: %s finding %s\n", action, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&action, "action", "a", "", "decision type: accept, dismiss, or intentional")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why this decision was made")
	cmd.Flags().StringVarP(&by, "by", "b", "user", "who made this decision")
	return cmd
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (a *app) baselineCmd() *cobra.Command {
	var repoName, focusFilter, severityFilter string
	var undo, list bool
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Baseline existing findings to suppress them in future audits",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if list {
				baselines, err := decisions.ListBaseline(a.cfg.Decisions.Path)
				if err != nil {
					return err
				}
				if len(baselines) == 0 {
					fmt.Fprintln(out, "No baselined findings.")
					return nil
				}
				fmt.Fprintf(out, "%d baselined finding(s).\n", len(baselines))
				fmt.Fprintln(out, "Run `vigil baseline --undo` to remove all baselines.")
				return nil
			}

			if undo {
				filter := decisions.BaselineFilter{
					Repos:      splitList(repoName),
					Focuses:    splitList(focusFilter),
					Severities: splitList(strings.ToLower(severityFilter)),
				}
				removed, err := decisions.RemoveBaseline(a.cfg.Decisions.Path, filter)
				if err != nil {
					return err
				}
				suffix := ""
				if repoName != "" {
					suffix = " for " + repoName
				}
				fmt.Fprintf(out, "Removed %d baseline decisions%s.\n", removed, suffix)
				return nil
			}

			findings := a.findingsForBaseline(repoName, focusFilter, severityFilter)
			if len(findings) == 0 {
				fmt.Fprintln(out, "No findings to baseline. Run `vigil run` first.")
				return nil
			}

			repoPath := "."
			if repoName != "" {
				if repo, ok := a.cfg.Repo(repoName); ok {
					repoPath = repo.Path
				}
			}

			created := decisions.CreateBaseline(findings, repoPath, "baseline", repoName)
			for _, d := range created {
				if err := decisions.Append(a.cfg.Decisions.Path, d); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Baselined %d findings from latest audit.\n", len(created))
			fmt.Fprintln(out, "These will not appear in future reports unless the affected files change.")
			fmt.Fprintln(out, "Run `vigil baseline --undo` to reverse.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&repoName, "repo", "r", "", "baseline a specific repo")
	cmd.Flags().StringVarP(&focusFilter, "focus", "f", "", "baseline specific focus area(s)")
	cmd.Flags().StringVarP(&severityFilter, "severity", "s", "", "baseline specific severities (low,medium,high)")
	cmd.Flags().BoolVar(&undo, "undo", false, "remove baseline decisions")
	cmd.Flags().BoolVar(&list, "list", false, "show baselined findings")
	return cmd
}

// findingsForBaseline loads the latest snapshot, trying the control
// directory first and the repo's own directory second.
func (a *app) findingsForBaseline(repoName, focusFilter, severityFilter string) []audit.Finding {
	findings := state.LoadLatest(".")
	if len(findings) == 0 && repoName != "" {
		if repo, ok := a.cfg.Repo(repoName); ok {
			findings = state.LoadLatest(repo.Path)
		}
	}

	focuses := splitList(focusFilter)
	severities := splitList(strings.ToLower(severityFilter))

	var out []audit.Finding
	for _, f := range findings {
		if len(focuses) > 0 && !contains(focuses, f.Focus) {
			continue
		}
		if len(severities) > 0 && !contains(severities, string(f.Severity)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}
