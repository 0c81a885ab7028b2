package answer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/embed"
	"github.com/regscope/regscope/internal/geocode"
	"github.com/regscope/regscope/internal/llm"
	"github.com/regscope/regscope/internal/vecindex"
)

const generatedAnswer = `### Federal

Food facilities must register with the FDA before operating [1].

### State

Texas requires a license for wholesale food manufacturing [2].

### Required Permits

- Permit Name: Food Facility Registration
  Issuing Agency: U.S. Food and Drug Administration
  Jurisdiction: Federal
  Regulatory Reference: 21 C.F.R. § 1.225
`

func texasGeocoder(t *testing.T) geocode.Geocoder {
	t.Helper()
	return geocode.GeocoderFunc(func(_ context.Context, _ string) (geocode.Location, error) {
		return geocode.Location{State: "TX"}, nil
	})
}

func seedIndex(t *testing.T, embedder embed.Embedder, question string) *vecindex.Mem {
	t.Helper()
	qv, err := embedder.EmbedQuery(context.Background(), question)
	require.NoError(t, err)
	opposite := make([]float32, len(qv))
	for i, v := range qv {
		opposite[i] = -v
	}

	index := vecindex.NewMem(len(qv))
	require.NoError(t, index.Upsert(context.Background(), []vecindex.Record{
		{ID: "us-chunk", Values: qv, Metadata: map[string]any{
			"citation":     "21 C.F.R. § 1.225",
			"url":          "https://ecfr.gov/title-21/1.225",
			"jurisdiction": "US",
			"text":         "Facilities that manufacture food must register with the FDA.",
			"last_updated": "2026-08-01",
		}},
		{ID: "tx-chunk", Values: qv, Metadata: map[string]any{
			"citation":     "25 Tex. Admin. Code § 229.621",
			"url":          "https://texreg.sos.state.tx.us/229.621",
			"jurisdiction": "TX",
			"text":         "A person may not operate a food manufacturing plant without a license.",
			"last_updated": "2020-01-01",
		}},
		{ID: "weak-chunk", Values: opposite, Metadata: map[string]any{
			"citation":     "21 C.F.R. § 58.1",
			"jurisdiction": "US",
			"text":         "Good laboratory practice for nonclinical studies.",
		}},
		{ID: "other-state", Values: qv, Metadata: map[string]any{
			"citation":     "Cal. Health & Safety Code § 110460",
			"jurisdiction": "CA",
			"text":         "California registration requirement.",
		}},
	}))
	return index
}

func TestProcessQuery(t *testing.T) {
	const question = "Do I need a permit to manufacture food in Texas?"
	embedder := embed.NewFake(8)
	index := seedIndex(t, embedder, question)
	db := appdb.NewMem()

	var gotSystem, gotUser string
	gen := llm.GeneratorFunc(func(_ context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return generatedAnswer, nil
	})

	p := NewPipeline(texasGeocoder(t), embedder, index, gen, db, config.RetrievalConfig{})
	p.now = func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) }

	res, err := p.ProcessQuery(context.Background(), Request{
		Question: question,
		Address:  "600 Travis St, Houston, TX",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"US", "TX"}, res.Jurisdictions)

	// Strong matches only, recency-boosted federal chunk first. The
	// below-threshold and out-of-jurisdiction records never surface.
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "us-chunk", res.Chunks[0].ChunkID)
	assert.Equal(t, "tx-chunk", res.Chunks[1].ChunkID)
	assert.Greater(t, res.Chunks[0].Weighted, res.Chunks[1].Weighted)

	assert.Equal(t, "High", res.Confidence.Level)
	assert.InDelta(t, 1.0, res.Confidence.AvgSimilarity, 0.01)
	assert.Equal(t, 1.0, res.Confidence.JurisdictionCoverage)
	assert.Contains(t, res.Confidence.Reason, "2 of 2 jurisdictions covered")

	require.Len(t, res.Citations, 2)
	assert.Equal(t, "us-chunk", res.Citations[0].ChunkID)
	assert.Equal(t, "tx-chunk", res.Citations[1].ChunkID)
	require.Len(t, res.Permits, 1)
	assert.Equal(t, "Food Facility Registration", res.Permits[0].Name)
	assert.Contains(t, res.Summary, "register with the FDA")

	require.Len(t, res.Sections, 2)
	assert.Equal(t, "Federal", res.Sections[0].Heading)
	assert.Equal(t, "State", res.Sections[1].Heading)
	assert.NotContains(t, res.Sections[0].Text, "###")

	assert.Contains(t, gotSystem, "Required Permits")
	assert.Contains(t, gotUser, question)
	assert.Contains(t, gotUser, "[1] 21 C.F.R. § 1.225")
	assert.Contains(t, gotUser, "[2] 25 Tex. Admin. Code § 229.621")

	require.NotEqual(t, uuid.Nil, res.QueryID)
	conv, err := db.GetConversation(context.Background(), res.QueryID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, appdb.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, question, conv.Messages[0].Text)
	assert.Equal(t, appdb.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "High", conv.Messages[1].Confidence)
	assert.Len(t, conv.Messages[1].Citations, 2)
}

func TestProcessQuery_GeneratorFailureYieldsLowConfidence(t *testing.T) {
	const question = "What are the labeling rules?"
	embedder := embed.NewFake(8)
	index := seedIndex(t, embedder, question)
	db := appdb.NewMem()

	gen := llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("model overloaded")
	})

	p := NewPipeline(texasGeocoder(t), embedder, index, gen, db, config.RetrievalConfig{})

	res, err := p.ProcessQuery(context.Background(), Request{Question: question})
	require.NoError(t, err)
	assert.Equal(t, "Low", res.Confidence.Level)
	assert.Contains(t, res.Confidence.Reason, "retrieval failed")
	assert.Contains(t, res.Answer, "Insufficient coverage for definitive answer")
	assert.Empty(t, res.Citations)

	// The failed exchange is still recorded.
	require.NotEqual(t, uuid.Nil, res.QueryID)
	conv, err := db.GetConversation(context.Background(), res.QueryID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestProcessQuery_GeocodeFailureFallsBackToFederal(t *testing.T) {
	const question = "Are there federal registration rules?"
	embedder := embed.NewFake(8)
	index := seedIndex(t, embedder, question)

	broken := geocode.GeocoderFunc(func(context.Context, string) (geocode.Location, error) {
		return geocode.Location{}, fmt.Errorf("geocoder unreachable")
	})
	gen := llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "Registration applies nationwide [1].", nil
	})

	p := NewPipeline(broken, embedder, index, gen, appdb.NewMem(), config.RetrievalConfig{})

	res, err := p.ProcessQuery(context.Background(), Request{
		Question: question,
		Address:  "nowhere in particular",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"US"}, res.Jurisdictions)
	for _, ch := range res.Chunks {
		assert.Equal(t, "US", ch.Jurisdiction)
	}
}

func TestRerank(t *testing.T) {
	p := &Pipeline{
		Config: config.RetrievalConfig{},
		now:    func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) },
	}

	chunks := []RetrievedChunk{
		{ChunkID: "stale-strong", Score: 0.95, LastUpdated: "2020-01-01"},
		{ChunkID: "fresh", Score: 0.90, LastUpdated: "2026-08-01"},
		{ChunkID: "weak", Score: 0.40, LastUpdated: "2026-08-01"},
	}

	got := p.rerank(chunks)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].ChunkID)
	assert.InDelta(t, 0.92, got[0].Weighted, 1e-9)
	assert.Equal(t, "stale-strong", got[1].ChunkID)
	assert.InDelta(t, 0.76, got[1].Weighted, 1e-9)
}

func TestRerank_FinalTopK(t *testing.T) {
	p := &Pipeline{
		Config: config.RetrievalConfig{FinalTopK: 1},
		now:    func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) },
	}
	chunks := []RetrievedChunk{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.8},
	}
	got := p.rerank(chunks)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ChunkID)
}

func TestConfidence_PartialCoverageCapsAtMedium(t *testing.T) {
	p := &Pipeline{Config: config.RetrievalConfig{}}
	chunks := []RetrievedChunk{
		{Score: 1.0, Citation: "21 C.F.R. § 1.225", Jurisdiction: "US"},
		{Score: 1.0, Citation: "21 C.F.R. § 117.3", Jurisdiction: "US"},
	}

	conf := p.confidence(chunks, []string{"US", "TX", "TX-48201"})
	assert.Equal(t, "Medium", conf.Level)
	assert.InDelta(t, 0.8, conf.Score, 0.01)
	assert.InDelta(t, 1.0/3.0, conf.JurisdictionCoverage, 1e-9)
}

func TestConfidence_NoChunks(t *testing.T) {
	p := &Pipeline{Config: config.RetrievalConfig{}}
	conf := p.confidence(nil, []string{"US"})
	assert.Equal(t, "Low", conf.Level)
	assert.Zero(t, conf.Score)
}
