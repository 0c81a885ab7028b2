package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/source"
)

// workflowStep is scratch state recorded after each phase of the
// federal workflow, keyed per instance so concurrent titles never
// collide.
type workflowStep struct {
	Step        string    `json:"step"`
	Parts       int       `json:"parts,omitempty"`
	Parsed      int       `json:"parsed,omitempty"`
	Skipped     int       `json:"skipped,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
	Failures    []string  `json:"failures,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// FederalWorkflow is the two-phase federal ingestion: a pre-parse pass
// that caches parsed parts next to the raw XML, then a chunk/embed
// pass that reads only the cache. The second phase never touches the
// eCFR API or the XML parser.
type FederalWorkflow struct {
	deps       Deps
	builder    *source.CacheBuilder
	runner     *Runner
	title      int
	instanceID string
	now        func() time.Time
}

// Compile-time interface check.
var _ Ingestor = (*FederalWorkflow)(nil)

// NewFederalWorkflow wires the two phases for one CFR title.
func NewFederalWorkflow(deps Deps, fetcher *source.FederalFetcher, title int) *FederalWorkflow {
	cached := source.NewCachedFederalFetcher(deps.Store, title)
	return &FederalWorkflow{
		deps:       deps,
		builder:    source.NewCacheBuilder(fetcher, deps.Store),
		runner:     NewFederalRunner(deps, cached, title),
		title:      title,
		instanceID: fmt.Sprintf("%d-%s", title, time.Now().UTC().Format("20060102-150405")),
		now:        time.Now,
	}
}

// Family returns the source family.
func (w *FederalWorkflow) Family() string { return cite.SourceFederal }

// Label identifies the workflow in logs.
func (w *FederalWorkflow) Label() string { return cite.FederalSourceID(w.title) }

// Run executes both phases. A failed pre-parse part does not block the
// chunk/embed pass over the parts that did cache.
func (w *FederalWorkflow) Run(ctx context.Context) (*Result, error) {
	cacheRes, err := w.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	step := workflowStep{
		Step:        "cache",
		Parts:       cacheRes.Parts,
		Parsed:      cacheRes.Parsed,
		Skipped:     cacheRes.Skipped,
		CompletedAt: w.now().UTC(),
	}
	for _, f := range cacheRes.Failures {
		step.Failures = append(step.Failures, f.Error())
	}
	w.saveStep(ctx, step)
	slog.Info("federal_cache_pass_complete",
		slog.Int("title", w.title),
		slog.Int("parts", cacheRes.Parts),
		slog.Int("parsed", cacheRes.Parsed),
		slog.Int("skipped", cacheRes.Skipped),
		slog.Int("failed", len(cacheRes.Failures)))

	res, err := w.runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	w.saveStep(ctx, workflowStep{
		Step:        "ingest",
		Parts:       res.Processed,
		Chunks:      res.Chunks,
		CompletedAt: w.now().UTC(),
	})

	// Cache-pass failures surface on the result so the exit code
	// reflects them.
	for _, f := range cacheRes.Failures {
		res.Failures = append(res.Failures, UnitFailure{Unit: "cache", Error: f.Error()})
	}
	return res, nil
}

// RunUnit ingests one part from the cache, building the cache first
// when it does not exist yet.
func (w *FederalWorkflow) RunUnit(ctx context.Context, part string) (*Result, error) {
	res, err := w.runner.RunUnit(ctx, part)
	if err == nil || !missingCache(err) {
		return res, err
	}
	if _, err := w.builder.Build(ctx); err != nil {
		return nil, err
	}
	return w.runner.RunUnit(ctx, part)
}

// missingCache reports whether err means the pre-parse pass has not
// run yet.
func missingCache(err error) bool {
	return errors.IsNotFound(err) || stderrors.Is(err, objstore.ErrNotExist)
}

// saveStep records scratch state; best effort.
func (w *FederalWorkflow) saveStep(ctx context.Context, step workflowStep) {
	data, err := json.Marshal(step)
	if err != nil {
		return
	}
	key := objstore.WorkflowStateKey("federal-title", w.instanceID, step.Step)
	md := objstore.DocumentMetadata("pipeline", "workflow_state", w.now().UTC(), nil)
	if err := w.deps.Store.Put(ctx, key, data, md); err != nil {
		slog.Warn("workflow_state_write_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
