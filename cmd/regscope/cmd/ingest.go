package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/pipeline"
	"github.com/regscope/regscope/internal/render"
	"github.com/regscope/regscope/internal/source"
)

var knownFamilies = []string{cite.SourceFederal, cite.SourceState, cite.SourceCounty, cite.SourceMunicipal}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var unit string

	cmd := &cobra.Command{
		Use:   "ingest [family...]",
		Short: "Run ingestion pipelines",
		Long: `Ingest regulatory sources into the vector index.

Families: federal, state, county, municipal. With no arguments the
configured enabled sources run in order. Runs are checkpointed; an
interrupted family resumes at the unit after its last checkpoint.

Examples:
  regscope ingest
  regscope ingest federal state
  regscope ingest federal --unit 21:117
  regscope ingest county --unit TX-48201`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, root, args, unit)
		},
	}

	cmd.Flags().StringVar(&unit, "unit", "", "Ingest one unit: federal title:part, statute code, TAC title, or jurisdiction")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, families []string, unit string) error {
	for _, family := range families {
		if !slices.Contains(knownFamilies, family) {
			return errors.Newf(errors.ErrCodeConfig, "unknown source family %q", family)
		}
	}
	if unit != "" && len(families) != 1 {
		return errors.Newf(errors.ErrCodeConfig, "--unit requires exactly one family")
	}

	a, err := buildApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	if len(families) == 0 {
		families = a.cfg.Ingestion.EnabledSources
	}

	var renderer render.Renderer
	if slices.Contains(families, cite.SourceMunicipal) {
		renderer, err = render.NewHTTPRenderer(a.cfg.Renderer)
		if err != nil {
			return err
		}
	}

	deps := a.pipelineDeps()
	client := a.scrapeClient()
	out := cmd.OutOrStdout()

	if unit != "" {
		res, err := runIngestUnit(ctx, a, families[0], unit, renderer)
		if err != nil {
			return err
		}
		printResult(out, res)
		return resultErr(res)
	}

	cfg := *a.cfg
	cfg.Ingestion.EnabledSources = families
	ingestors := pipeline.BuildIngestors(&cfg, deps, client, renderer)

	batch := pipeline.RunBatch(ctx, ingestors)
	for _, res := range batch.Results {
		printResult(out, res)
	}
	for _, msg := range batch.Errors {
		fmt.Fprintf(out, "failed: %s\n", msg)
	}

	switch {
	case batch.Failed():
		return fmt.Errorf("ingestion failed: %s", strings.Join(batch.Errors, "; "))
	case batch.Partial():
		return fmt.Errorf("ingestion: %w", errPartial)
	default:
		return nil
	}
}

// runIngestUnit ingests a single unit of one family. Federal units are
// addressed as "title:part"; state units are a statute code ("PE") or a
// TAC title number; county and municipal units are jurisdiction IDs.
func runIngestUnit(ctx context.Context, a *app, family, unit string, renderer render.Renderer) (*pipeline.Result, error) {
	deps := a.pipelineDeps()
	client := a.scrapeClient()

	switch family {
	case cite.SourceFederal:
		titleStr, part, ok := strings.Cut(unit, ":")
		if !ok {
			return nil, errors.Newf(errors.ErrCodeConfig, "federal unit must be title:part, got %q", unit)
		}
		title, err := strconv.Atoi(titleStr)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeConfig, "federal title must be numeric, got %q", titleStr)
		}
		fetcher := source.NewFederalFetcher(client, deps.Store, "", title)
		return pipeline.NewFederalWorkflow(deps, fetcher, title).RunUnit(ctx, part)

	case cite.SourceState:
		if _, err := strconv.Atoi(unit); err == nil {
			fetcher := source.NewTACFetcher(client, deps.Store, "", a.cfg.Ingestion.TACTitles)
			return pipeline.NewTACRunner(deps, fetcher).RunUnit(ctx, unit)
		}
		fetcher := source.NewStatuteFetcher(client, deps.Store, "", a.cfg.Ingestion.StatuteCodes)
		return pipeline.NewStatuteRunner(deps, fetcher).RunUnit(ctx, unit)

	case cite.SourceCounty:
		fetcher := source.NewCountyFetcher(client, deps.Store, nil)
		return pipeline.NewCountyRunner(deps, fetcher).RunUnit(ctx, unit)

	case cite.SourceMunicipal:
		fetcher := source.NewMunicipalFetcher(renderer, deps.Store, nil)
		return pipeline.NewMunicipalRunner(deps, fetcher).RunUnit(ctx, unit)

	default:
		return nil, errors.Newf(errors.ErrCodeConfig, "unknown source family %q", family)
	}
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "%-10s %-16s processed=%d skipped=%d chunks=%d failures=%d duration=%s\n",
		res.Family, res.Label, res.Processed, res.Skipped, res.Chunks, len(res.Failures), res.Duration.Round(time.Millisecond))
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  failed %s: %s\n", f.Unit, f.Error)
	}
	if len(res.SectionFailures) > 0 {
		fmt.Fprintf(w, "  sections skipped: %d\n", len(res.SectionFailures))
		for _, f := range res.SectionFailures {
			fmt.Fprintf(w, "    %s: %s\n", f.ID, f.Error)
		}
	}
}

func resultErr(res *pipeline.Result) error {
	switch {
	case res.Failed():
		return fmt.Errorf("%s: all units failed", res.Label)
	case res.Partial():
		return fmt.Errorf("%s: %w", res.Label, errPartial)
	default:
		return nil
	}
}
