// Package cli wires the cobra command surface over the runner.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/logging"
	"vigil/internal/providers"
	"vigil/internal/runner"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
)

// app carries the state shared across commands: config is loaded and
// the logger built once in the root PersistentPreRunE, then threaded
// into every handler.
type app struct {
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger

	// parsed flips once flag parsing succeeded; an Execute error before
	// that point is a usage error.
	parsed bool
}

// Run executes the CLI and returns the process exit code.
func Run() int {
	a := &app{}

	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Recurring LLM code-quality audits",
		Long:          "Vigil runs scheduled code-quality audits against configured repositories using LLM batch APIs, remembers decisions about findings, and tracks spend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.parsed = true
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(a.debug)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to vigil.yml")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.runCmd(),
		a.submitCmd(),
		a.retrieveCmd(),
		a.decideCmd(),
		a.baselineCmd(),
		a.estimateCmd(),
		a.scheduleCmd(),
		a.statusCmd(),
		a.costsCmd(),
		a.reportCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		switch {
		case providers.IsAuthError(err):
			return ExitAuthError
		case !a.parsed:
			return ExitUsageError
		default:
			return ExitRuntimeError
		}
	}
	return ExitSuccess
}

func (a *app) newRunner() *runner.Runner {
	return runner.New(a.cfg, a.logger)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print vigil version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vigil version %s\n", runner.Version)
		},
	}
}
