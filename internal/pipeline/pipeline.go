// Package pipeline orchestrates ingestion: per source family it walks
// units (a CFR part, a statute code, a TAC title, a county, a city)
// through fetch, chunk, embed, and upsert, writing a checkpoint after
// each unit so an interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/chunker"
	"github.com/regscope/regscope/internal/embed"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/source"
	"github.com/regscope/regscope/internal/vecindex"
)

// Deps carries the shared collaborators runners are built from. AppDB
// may be nil; freshness updates are then skipped.
type Deps struct {
	Store    objstore.Store
	Index    vecindex.Index
	Embedder embed.Embedder
	Chunker  *chunker.Chunker
	AppDB    appdb.Store

	// UpsertBatchSize caps records per index upsert; defaults to 100.
	UpsertBatchSize int
}

func (d Deps) upsertBatch() int {
	if d.UpsertBatchSize <= 0 {
		return 100
	}
	return d.UpsertBatchSize
}

// UnitFailure records one unit that could not be ingested.
type UnitFailure struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// Result summarizes one family run. SectionFailures are sections
// skipped within otherwise successful units; they do not make the run
// partial or failed.
type Result struct {
	Family          string                  `json:"family"`
	Label           string                  `json:"label"`
	Processed       int                     `json:"processed"`
	Skipped         int                     `json:"skipped"`
	Chunks          int                     `json:"chunks"`
	Failures        []UnitFailure           `json:"failures,omitempty"`
	SectionFailures []source.SectionFailure `json:"section_failures,omitempty"`
	Duration        time.Duration           `json:"duration"`
}

// Partial reports whether some units failed while others succeeded.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0 && r.Processed > 0
}

// Failed reports whether nothing was ingested.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0 && r.Processed == 0
}

// Ingestor runs one source family end to end.
type Ingestor interface {
	Family() string
	Label() string
	Run(ctx context.Context) (*Result, error)
	RunUnit(ctx context.Context, unit string) (*Result, error)
}

// Runner is the per-family ingestion loop. The zero value is not
// usable; build one with a family constructor below.
type Runner struct {
	deps          Deps
	fetcher       source.Fetcher
	cpKey         string
	newCheckpoint func() checkpoint
	now           func() time.Time
}

// Compile-time interface check.
var _ Ingestor = (*Runner)(nil)

// NewFederalRunner ingests one CFR title part by part.
func NewFederalRunner(deps Deps, fetcher source.Fetcher, title int) *Runner {
	return &Runner{
		deps:          deps,
		fetcher:       fetcher,
		cpKey:         objstore.FederalCheckpointKey(title),
		newCheckpoint: func() checkpoint { return &FederalCheckpoint{TitleNumber: title} },
		now:           time.Now,
	}
}

// NewStatuteRunner ingests the Texas statute codes.
func NewStatuteRunner(deps Deps, fetcher source.Fetcher) *Runner {
	return &Runner{
		deps:          deps,
		fetcher:       fetcher,
		cpKey:         objstore.StatuteCheckpointKey(),
		newCheckpoint: func() checkpoint { return &StatuteCheckpoint{} },
		now:           time.Now,
	}
}

// NewTACRunner ingests the Texas Administrative Code titles.
func NewTACRunner(deps Deps, fetcher source.Fetcher) *Runner {
	return &Runner{
		deps:          deps,
		fetcher:       fetcher,
		cpKey:         objstore.TACCheckpointKey(),
		newCheckpoint: func() checkpoint { return &TACCheckpoint{} },
		now:           time.Now,
	}
}

// NewCountyRunner ingests the county registry.
func NewCountyRunner(deps Deps, fetcher source.Fetcher) *Runner {
	return &Runner{
		deps:          deps,
		fetcher:       fetcher,
		cpKey:         objstore.CountyCheckpointKey(),
		newCheckpoint: func() checkpoint { return &RegionCheckpoint{} },
		now:           time.Now,
	}
}

// NewMunicipalRunner ingests the city registry.
func NewMunicipalRunner(deps Deps, fetcher source.Fetcher) *Runner {
	return &Runner{
		deps:          deps,
		fetcher:       fetcher,
		cpKey:         objstore.MunicipalCheckpointKey(),
		newCheckpoint: func() checkpoint { return &RegionCheckpoint{} },
		now:           time.Now,
	}
}

// Family returns the fetcher's source family.
func (r *Runner) Family() string { return r.fetcher.Family() }

// Label returns the fetcher's log label.
func (r *Runner) Label() string { return r.fetcher.Label() }

// Run ingests every unit of the family, resuming from the checkpoint
// when one exists. A unit failure is captured and the run continues;
// the checkpoint is deleted only when every unit succeeded.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := r.now()
	res := &Result{Family: r.Family(), Label: r.Label()}

	cp := r.newCheckpoint()
	resumed, err := loadCheckpoint(ctx, r.deps.Store, r.cpKey, cp)
	if err != nil {
		return nil, err
	}
	if resumed {
		slog.Info("pipeline_resume",
			slog.String("label", r.Label()),
			slog.String("last_unit", cp.lastUnit()),
			slog.Int("chunks_processed", cp.chunkCount()))
	}

	units, err := r.fetcher.Units(ctx)
	if err != nil {
		return nil, err
	}

	pending := units
	if last := cp.lastUnit(); last != "" {
		for i, unit := range units {
			if unit == last {
				pending = units[i+1:]
				res.Skipped = i + 1
				break
			}
		}
	}

	for _, unit := range pending {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeTimeout, err)
		}
		chunks, skipped, err := r.processUnit(ctx, unit)
		if err != nil {
			slog.Error("pipeline_unit_failed",
				slog.String("label", r.Label()),
				slog.String("unit", unit),
				slog.String("error", err.Error()))
			res.Failures = append(res.Failures, UnitFailure{Unit: unit, Error: err.Error()})
			continue
		}
		res.Processed++
		res.Chunks += chunks
		res.SectionFailures = append(res.SectionFailures, skipped...)

		cp.advance(unit, chunks, r.now().UTC())
		if err := saveCheckpoint(ctx, r.deps.Store, r.cpKey, cp, r.now().UTC()); err != nil {
			return nil, err
		}
		slog.Info("ingest_unit_complete",
			slog.String("label", r.Label()),
			slog.String("unit", unit),
			slog.Int("chunks", chunks))
	}

	if len(res.Failures) == 0 {
		if err := r.deps.Store.Delete(ctx, r.cpKey); err != nil {
			return nil, err
		}
	}
	res.Duration = r.now().Sub(start)
	r.reportFreshness(ctx, res)

	slog.Info("pipeline_family_complete",
		slog.String("label", r.Label()),
		slog.Int("processed", res.Processed),
		slog.Int("skipped", res.Skipped),
		slog.Int("chunks", res.Chunks),
		slog.Int("failed", len(res.Failures)))
	return res, nil
}

// RunUnit ingests a single named unit without touching the checkpoint.
func (r *Runner) RunUnit(ctx context.Context, unit string) (*Result, error) {
	start := r.now()
	chunks, skipped, err := r.processUnit(ctx, unit)
	if err != nil {
		return nil, err
	}
	return &Result{
		Family:          r.Family(),
		Label:           r.Label(),
		Processed:       1,
		Chunks:          chunks,
		SectionFailures: skipped,
		Duration:        r.now().Sub(start),
	}, nil
}

// processUnit fetches, chunks, embeds, and upserts one unit. The
// fetcher has already persisted the raw documents by the time sections
// come back. Sections the fetcher skipped are returned so the run
// result can report them.
func (r *Runner) processUnit(ctx context.Context, unit string) (int, []source.SectionFailure, error) {
	fetched, err := r.fetcher.FetchUnit(ctx, unit)
	if err != nil {
		return 0, nil, err
	}
	sections := fetched.Sections

	var chunks []*chunker.Chunk
	for _, sec := range sections {
		cs, err := r.deps.Chunker.Split(sec, "")
		if err != nil {
			return 0, nil, err
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		slog.Warn("pipeline_unit_empty",
			slog.String("label", r.Label()), slog.String("unit", unit))
		return 0, fetched.Skipped, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := r.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, nil, err
	}

	indexedAt := r.now().UTC().Format(time.RFC3339)
	records := make([]vecindex.Record, len(chunks))
	for i, ch := range chunks {
		ch.IndexedAt = indexedAt
		records[i] = vecindex.Record{
			ID:       ch.ChunkID,
			Values:   vectors[i],
			Metadata: ch.Metadata(),
		}
	}

	batch := r.deps.upsertBatch()
	for i := 0; i < len(records); i += batch {
		end := min(i+batch, len(records))
		if err := r.deps.Index.Upsert(ctx, records[i:end]); err != nil {
			return 0, nil, err
		}
	}

	r.reportJurisdictions(ctx, unit, sections, len(chunks))
	return len(chunks), fetched.Skipped, nil
}

// reportFreshness posts a source status update; failures are logged,
// never propagated.
func (r *Runner) reportFreshness(ctx context.Context, res *Result) {
	if r.deps.AppDB == nil {
		return
	}
	status := "active"
	if res.Failed() {
		status = "error"
	} else if res.Partial() {
		status = "partial"
	}
	err := r.deps.AppDB.UpdateSourceStatus(ctx, appdb.SourceStatus{
		SourceType:    r.Family(),
		Status:        status,
		LastScrapedAt: r.now().UTC(),
		TotalVectors:  res.Chunks,
		DurationMS:    res.Duration.Milliseconds(),
	})
	if err != nil {
		slog.Warn("freshness_update_failed",
			slog.String("label", r.Label()),
			slog.String("error", err.Error()))
	}
}

// reportJurisdictions upserts jurisdiction records for a completed
// unit; county and municipal units are themselves jurisdictions.
func (r *Runner) reportJurisdictions(ctx context.Context, unit string, sections []*source.Section, chunks int) {
	if r.deps.AppDB == nil {
		return
	}
	family := r.Family()
	if family != "county" && family != "municipal" {
		return
	}
	name := unit
	if len(sections) > 0 {
		if sections[0].County != "" {
			name = sections[0].County
		} else if sections[0].City != "" {
			name = sections[0].City
		}
	}
	now := r.now().UTC()
	err := r.deps.AppDB.UpdateJurisdiction(ctx, appdb.JurisdictionRecord{
		ID:            unit,
		Name:          name,
		Type:          family,
		Parent:        "TX",
		IsActive:      true,
		LastScrapedAt: &now,
		VectorCount:   chunks,
	})
	if err != nil {
		slog.Warn("jurisdiction_update_failed",
			slog.String("unit", unit),
			slog.String("error", err.Error()))
	}
}

// BatchResult aggregates a multi-family run.
type BatchResult struct {
	Results  []*Result     `json:"results"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Partial reports whether any family had unit failures or errored
// while at least one family made progress.
func (b *BatchResult) Partial() bool {
	progress := false
	trouble := len(b.Errors) > 0
	for _, r := range b.Results {
		if r.Processed > 0 {
			progress = true
		}
		if len(r.Failures) > 0 {
			trouble = true
		}
	}
	return progress && trouble
}

// Failed reports whether no family made progress and something went
// wrong.
func (b *BatchResult) Failed() bool {
	for _, r := range b.Results {
		if r.Processed > 0 {
			return false
		}
	}
	return len(b.Errors) > 0 || anyFailures(b.Results)
}

func anyFailures(results []*Result) bool {
	for _, r := range results {
		if len(r.Failures) > 0 {
			return true
		}
	}
	return false
}

// RunBatch runs the ingestors in order, collecting results. A family
// that errors outright is recorded and the batch continues.
func RunBatch(ctx context.Context, ingestors []Ingestor) *BatchResult {
	start := time.Now()
	batch := &BatchResult{}
	for _, ing := range ingestors {
		res, err := ing.Run(ctx)
		if err != nil {
			slog.Error("pipeline_family_error",
				slog.String("label", ing.Label()),
				slog.String("error", err.Error()))
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %s", ing.Label(), err.Error()))
			continue
		}
		batch.Results = append(batch.Results, res)
	}
	batch.Duration = time.Since(start)
	return batch
}
