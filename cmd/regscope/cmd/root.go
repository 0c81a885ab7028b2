// Package cmd provides the CLI commands for regscope.
package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/pkg/version"
)

// Exit codes for the operator surface.
const (
	ExitOK      = 0
	ExitConfig  = 1 // missing credentials or invalid configuration
	ExitPartial = 2 // some units failed, others succeeded
	ExitFailure = 3 // unrecoverable error
)

// errPartial marks runs that completed with unit failures; commands
// wrap it so Execute maps the run to ExitPartial.
var errPartial = stderrors.New("completed with failures")

// rootOptions holds persistent CLI flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command for the regscope CLI.
func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "regscope",
		Short: "Regulatory ingestion and retrieval for Texas compliance research",
		Long: `Regscope ingests federal, Texas state, county, and municipal
regulations into a vector index and answers compliance questions with
cited, jurisdiction-aware excerpts.

Run 'regscope ingest' to build the index, then 'regscope query' to ask
questions against it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("regscope version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to regscope.yaml (default: working directory)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	cmd.AddCommand(newIngestCmd(&opts))
	cmd.AddCommand(newQueryCmd(&opts))
	cmd.AddCommand(newHistoryCmd(&opts))
	cmd.AddCommand(newCoverageCmd(&opts))
	cmd.AddCommand(newValidateCmd(&opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI and maps the outcome to an exit code.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "regscope: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.HasCode(err, errors.ErrCodeConfig):
		return ExitConfig
	case stderrors.Is(err, errPartial):
		return ExitPartial
	default:
		return ExitFailure
	}
}
