package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/internal/audit"
	"vigil/internal/report"
	"vigil/internal/runner"
)

func addAuditFlags(cmd *cobra.Command, opts *runner.Options) {
	cmd.Flags().StringVarP(&opts.RepoName, "repo", "r", "", "audit a specific repo (default: all)")
	cmd.Flags().StringVarP(&opts.Focus, "focus", "f", "", "focus area(s): name, comma-separated, or 'all'")
	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "provider (default: from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would be audited without submitting")
}

func (a *app) runCmd() *cobra.Command {
	var opts runner.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an audit and wait for results",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.newRunner().Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printResults(cmd, results)
			return nil
		},
	}
	addAuditFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.WriteSARIF, "sarif", false, "also write a SARIF report")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var opts runner.Options
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch audit for later retrieval",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := a.newRunner().Submit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if pending == nil || len(pending.Batches) == 0 {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d batch(es) for %s.\n",
				len(pending.Batches), pending.Focus)
			fmt.Fprintln(cmd.OutOrStdout(), "Run `vigil retrieve` later to get results.")
			return nil
		},
	}
	addAuditFlags(cmd, &opts)
	return cmd
}

func (a *app) retrieveCmd() *cobra.Command {
	var opts runner.Options
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve results from a submitted batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.newRunner().Retrieve(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printResults(cmd, results)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.PendingPath, "pending-file", "", "path to pending batch JSON file")
	cmd.Flags().BoolVar(&opts.WriteSARIF, "sarif", false, "also write a SARIF report")
	return cmd
}

func printResults(cmd *cobra.Command, results []audit.AuditResult) {
	for _, result := range results {
		out := cmd.OutOrStdout()
		if len(result.NewFindings) == 0 {
			fmt.Fprintf(out, "\n%s: No new findings ✓\n", result.Repo)
			continue
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.Notification(result))
	}
}
