package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/validation"
)

func newCoverageCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report index coverage against the configured targets",
		Long: `Compare the vector index against the expected federal titles,
state, counties, and cities, and list any gaps.

Examples:
  regscope coverage
  regscope coverage --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(cmd.Context(), cmd, root, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown, json")

	return cmd
}

func runCoverage(ctx context.Context, cmd *cobra.Command, root *rootOptions, format string) error {
	a, err := buildApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	checker := validation.NewChecker(a.index, a.store, a.counter, a.cfg.Ingestion)
	report, err := checker.CheckCoverage(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprint(out, validation.Markdown(&validation.Report{
		Coverage:    report,
		GeneratedAt: report.GeneratedAt,
	}))
	return nil
}
