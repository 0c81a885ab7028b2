package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/chunker"
	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/embed"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/source"
	"github.com/regscope/regscope/internal/vecindex"
)

var wordCounter = cite.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

// fakeFetcher serves canned sections and records which units were
// fetched.
type fakeFetcher struct {
	family   string
	label    string
	units    []string
	fail     map[string]error
	fetched  []string
	sections func(unit string) []*source.Section
	skipped  map[string][]source.SectionFailure
}

func (f *fakeFetcher) Family() string { return f.family }
func (f *fakeFetcher) Label() string  { return f.label }

func (f *fakeFetcher) Units(_ context.Context) ([]string, error) {
	return f.units, nil
}

func (f *fakeFetcher) FetchUnit(_ context.Context, unit string) (*source.Unit, error) {
	f.fetched = append(f.fetched, unit)
	if err := f.fail[unit]; err != nil {
		return nil, err
	}
	return &source.Unit{Sections: f.sections(unit), Skipped: f.skipped[unit]}, nil
}

func statuteSections(code string) []*source.Section {
	return []*source.Section{
		{
			SourceType:   "state",
			Jurisdiction: "TX",
			Code:         code,
			Chapter:      "30",
			SectionID:    "30.01",
			Heading:      "Definitions",
			Text:         "In this chapter, habitation means a structure adapted for overnight accommodation.",
			SourceURL:    "https://statutes.capitol.texas.gov/Docs/" + code + "/htm/" + code + ".30.01.htm",
		},
		{
			SourceType:   "state",
			Jurisdiction: "TX",
			Code:         code,
			Chapter:      "30",
			SectionID:    "30.02",
			Heading:      "Burglary",
			Text:         "A person commits an offense if the person enters a habitation without consent.",
			SourceURL:    "https://statutes.capitol.texas.gov/Docs/" + code + "/htm/" + code + ".30.02.htm",
		},
	}
}

func newTestDeps(t *testing.T) (Deps, *objstore.Mem, *vecindex.Mem, *appdb.Mem) {
	t.Helper()
	store := objstore.NewMem()
	index := vecindex.NewMem(8)
	db := appdb.NewMem()
	deps := Deps{
		Store:    store,
		Index:    index,
		Embedder: embed.NewFake(8),
		Chunker:  chunker.New(wordCounter, 1500, 0.15),
		AppDB:    db,
	}
	return deps, store, index, db
}

func TestRunner_RunIngestsAllUnits(t *testing.T) {
	deps, store, index, db := newTestDeps(t)
	fetcher := &fakeFetcher{
		family:   "state",
		label:    "tx-statutes",
		units:    []string{"PE", "HS"},
		sections: statuteSections,
	}
	r := NewStatuteRunner(deps, fetcher)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 4, res.Chunks)
	assert.Empty(t, res.Failures)
	assert.False(t, res.Partial())

	stats, err := index.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.VectorCount)

	rec, ok := index.Get("tx-statute-pe-PE-30.02-0")
	require.True(t, ok)
	assert.Equal(t, "state", rec.Metadata["sourceType"])
	assert.Equal(t, "TX", rec.Metadata["jurisdiction"])
	assert.NotEmpty(t, rec.Metadata["indexed_at"])

	// Checkpoint cleared on full success.
	_, _, err = store.Get(context.Background(), objstore.StatuteCheckpointKey())
	assert.True(t, stderrors.Is(err, objstore.ErrNotExist))

	assert.Equal(t, "active", db.SourceStatuses()["state"].Status)
}

func TestRunner_ResumesFromCheckpoint(t *testing.T) {
	deps, store, _, _ := newTestDeps(t)

	cp := &StatuteCheckpoint{LastProcessedCode: "PE", ChunksProcessed: 4, Status: statusInProgress}
	data, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), objstore.StatuteCheckpointKey(), data, nil))

	fetcher := &fakeFetcher{
		family:   "state",
		label:    "tx-statutes",
		units:    []string{"PE", "HS"},
		sections: statuteSections,
	}
	r := NewStatuteRunner(deps, fetcher)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []string{"HS"}, fetcher.fetched)
}

func TestRunner_UnitFailureContinues(t *testing.T) {
	deps, store, _, db := newTestDeps(t)
	fetcher := &fakeFetcher{
		family:   "state",
		label:    "tx-statutes",
		units:    []string{"PE", "HS"},
		fail:     map[string]error{"PE": fmt.Errorf("upstream down")},
		sections: statuteSections,
	}
	r := NewStatuteRunner(deps, fetcher)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "PE", res.Failures[0].Unit)
	assert.True(t, res.Partial())
	assert.False(t, res.Failed())

	// Checkpoint survives so the failed unit is retried next run.
	data, _, err := store.Get(context.Background(), objstore.StatuteCheckpointKey())
	require.NoError(t, err)
	var cp StatuteCheckpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, "HS", cp.LastProcessedCode)

	assert.Equal(t, "partial", db.SourceStatuses()["state"].Status)
}

func TestRunner_RunCollectsSkippedSections(t *testing.T) {
	deps, store, _, db := newTestDeps(t)
	fetcher := &fakeFetcher{
		family:   "state",
		label:    "tx-statutes",
		units:    []string{"PE", "HS"},
		sections: statuteSections,
		skipped: map[string][]source.SectionFailure{
			"PE": {{ID: "PE.30.05", Error: "section has no usable text"}},
		},
	}
	r := NewStatuteRunner(deps, fetcher)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	require.Len(t, res.SectionFailures, 1)
	assert.Equal(t, "PE.30.05", res.SectionFailures[0].ID)

	// Skipped sections do not make the run partial; the checkpoint
	// clears and the source stays active.
	assert.Empty(t, res.Failures)
	assert.False(t, res.Partial())
	_, _, err = store.Get(context.Background(), objstore.StatuteCheckpointKey())
	assert.True(t, stderrors.Is(err, objstore.ErrNotExist))
	assert.Equal(t, "active", db.SourceStatuses()["state"].Status)
}

func TestRunner_RunUnitDoesNotTouchCheckpoint(t *testing.T) {
	deps, store, index, _ := newTestDeps(t)
	fetcher := &fakeFetcher{
		family:   "state",
		label:    "tx-statutes",
		units:    []string{"PE"},
		sections: statuteSections,
	}
	r := NewStatuteRunner(deps, fetcher)

	res, err := r.RunUnit(context.Background(), "PE")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Chunks)

	stats, err := index.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)

	_, _, err = store.Get(context.Background(), objstore.StatuteCheckpointKey())
	assert.True(t, stderrors.Is(err, objstore.ErrNotExist))
}

func TestRunner_CountyUnitUpdatesJurisdiction(t *testing.T) {
	deps, _, _, db := newTestDeps(t)
	fetcher := &fakeFetcher{
		family: "county",
		label:  "counties",
		units:  []string{"TX-48201"},
		sections: func(string) []*source.Section {
			return []*source.Section{{
				SourceType:   "county",
				Jurisdiction: "TX-48201",
				County:       "Harris",
				Chapter:      "14",
				SectionID:    "14-21",
				Heading:      "Permits",
				Text:         "No person may operate a food establishment without a county permit.",
			}}
		},
	}
	r := NewCountyRunner(deps, fetcher)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	rec := db.Jurisdictions()["TX-48201"]
	assert.Equal(t, "Harris", rec.Name)
	assert.Equal(t, "county", rec.Type)
	assert.True(t, rec.IsActive)
	assert.Equal(t, 1, rec.VectorCount)
}

// stubIngestor exercises RunBatch aggregation.
type stubIngestor struct {
	family string
	label  string
	res    *Result
	err    error
}

func (s *stubIngestor) Family() string { return s.family }
func (s *stubIngestor) Label() string  { return s.label }
func (s *stubIngestor) Run(context.Context) (*Result, error) {
	return s.res, s.err
}
func (s *stubIngestor) RunUnit(context.Context, string) (*Result, error) {
	return s.res, s.err
}

func TestRunBatch_AggregatesAndContinuesPastErrors(t *testing.T) {
	ok := &stubIngestor{family: "state", label: "tx-statutes",
		res: &Result{Family: "state", Label: "tx-statutes", Processed: 2, Chunks: 10}}
	broken := &stubIngestor{family: "county", label: "counties",
		err: fmt.Errorf("landing page unreachable")}

	batch := RunBatch(context.Background(), []Ingestor{broken, ok})
	require.Len(t, batch.Results, 1)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "counties")
	assert.True(t, batch.Partial())
	assert.False(t, batch.Failed())
}

func TestBatchResult_Failed(t *testing.T) {
	batch := &BatchResult{Errors: []string{"counties: boom"}}
	assert.True(t, batch.Failed())
	assert.False(t, batch.Partial())

	batch = &BatchResult{Results: []*Result{{Processed: 0, Failures: []UnitFailure{{Unit: "PE"}}}}}
	assert.True(t, batch.Failed())
}
