package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/validation"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the full validation report",
		Long: `Sample the vector index and the object store and report coverage,
chunk quality (token distribution, metadata completeness, citation
coverage), and storage gaps.

Examples:
  regscope validate
  regscope validate --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd, root, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown, json")

	return cmd
}

func runValidate(ctx context.Context, cmd *cobra.Command, root *rootOptions, format string) error {
	a, err := buildApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	checker := validation.NewChecker(a.index, a.store, a.counter, a.cfg.Ingestion)
	report, err := checker.FullReport(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprint(out, validation.Markdown(report))
	return nil
}
