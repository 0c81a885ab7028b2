// Package validation samples the vector index and the object store to
// report coverage, chunk quality, and storage gaps across the four
// source families.
package validation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/objstore"
	"github.com/regscope/regscope/internal/source"
	"github.com/regscope/regscope/internal/vecindex"
)

const (
	// sampleTopK is the index's query ceiling; samples cap here per
	// source type.
	sampleTopK = 10000

	// qualitySampleCap bounds tokenizer work per source type.
	qualitySampleCap = 1000
)

var sourceTypes = []string{cite.SourceFederal, cite.SourceState, cite.SourceCounty, cite.SourceMunicipal}

// Target is one expected coverage entry: a federal title's source ID
// or a jurisdiction identifier.
type Target struct {
	SourceType string
	ID         string
}

// TargetStatus is the per-target coverage verdict.
type TargetStatus struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"`
	Status     string `json:"status"` // active | missing
}

// SourceCoverage aggregates one source type.
type SourceCoverage struct {
	Expected int     `json:"expected"`
	Indexed  int     `json:"indexed"`
	Percent  float64 `json:"percent"`
	Sampled  int     `json:"sampled_vectors"`
}

// CoverageReport compares the index's contents against the configured
// ingestion targets.
type CoverageReport struct {
	TotalExpected   int                       `json:"total_expected"`
	TotalIndexed    int                       `json:"total_indexed"`
	CoveragePercent float64                   `json:"coverage_percent"`
	BySourceType    map[string]SourceCoverage `json:"by_source_type"`
	Jurisdictions   []TargetStatus            `json:"jurisdictions"`
	Gaps            []string                  `json:"gaps"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

// TokenDistribution summarizes chunk sizes for one source type.
type TokenDistribution struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Avg   float64 `json:"avg"`
	P50   int     `json:"p50"`
	P95   int     `json:"p95"`
	P99   int     `json:"p99"`
}

// Issue is one chunk failing required-field validation.
type Issue struct {
	ChunkID string `json:"chunk_id"`
	Issue   string `json:"issue"`
}

// QualityReport covers sampled chunks of one source type.
type QualityReport struct {
	SourceType          string            `json:"source_type"`
	Samples             int               `json:"samples"`
	Tokens              TokenDistribution `json:"token_distribution"`
	FieldCounts         map[string]int    `json:"metadata_completeness"`
	CitationCoveragePct float64           `json:"citation_coverage_pct"`
	Issues              []Issue           `json:"issues,omitempty"`
}

// StorageReport lists expected object-store prefixes with no data.
type StorageReport struct {
	MissingFolders           []string `json:"missing_folders"`
	JurisdictionsWithoutData []string `json:"jurisdictions_without_data"`
}

// Report is the full validation output.
type Report struct {
	Coverage    *CoverageReport  `json:"coverage"`
	Quality     []*QualityReport `json:"quality"`
	Storage     *StorageReport   `json:"storage"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Checker runs validation against the live index and store. Counties
// and Cities default to the built-in registries when nil.
type Checker struct {
	Index     vecindex.Index
	Store     objstore.Store
	Counter   cite.Counter
	Ingestion config.IngestionConfig
	Counties  []source.County
	Cities    []source.City

	now func() time.Time
}

// NewChecker creates a checker over the default registries.
func NewChecker(index vecindex.Index, store objstore.Store, counter cite.Counter, ing config.IngestionConfig) *Checker {
	return &Checker{
		Index:     index,
		Store:     store,
		Counter:   counter,
		Ingestion: ing,
		Counties:  source.DefaultCounties,
		Cities:    source.DefaultCities,
		now:       time.Now,
	}
}

// targets enumerates what the index should contain: one source ID per
// configured federal title, the state, and every registered county and
// city.
func (c *Checker) targets() []Target {
	var out []Target
	for _, title := range c.Ingestion.FederalTitles {
		out = append(out, Target{SourceType: cite.SourceFederal, ID: cite.FederalSourceID(title)})
	}
	out = append(out, Target{SourceType: cite.SourceState, ID: "TX"})
	for _, county := range c.counties() {
		out = append(out, Target{SourceType: cite.SourceCounty, ID: county.Jurisdiction()})
	}
	for _, city := range c.cities() {
		out = append(out, Target{SourceType: cite.SourceMunicipal, ID: city.Jurisdiction()})
	}
	return out
}

func (c *Checker) counties() []source.County {
	if c.Counties == nil {
		return source.DefaultCounties
	}
	return c.Counties
}

func (c *Checker) cities() []source.City {
	if c.Cities == nil {
		return source.DefaultCities
	}
	return c.Cities
}

// sample pulls up to sampleTopK chunks of one source type. The index
// has no distinct-field operation, so sampling queries a zero vector
// and reads metadata off the matches.
func (c *Checker) sample(ctx context.Context, sourceType string) ([]vecindex.Match, error) {
	stats, err := c.Index.Describe(ctx)
	if err != nil {
		return nil, err
	}
	return c.Index.Search(ctx, vecindex.Query{
		Vector:          make([]float32, stats.Dimension),
		TopK:            sampleTopK,
		Filter:          vecindex.Eq("sourceType", sourceType),
		IncludeMetadata: true,
	})
}

// sampleAll fans out one sampling query per source type.
func (c *Checker) sampleAll(ctx context.Context) (map[string][]vecindex.Match, error) {
	var mu sync.Mutex
	samples := make(map[string][]vecindex.Match, len(sourceTypes))

	g, ctx := errgroup.WithContext(ctx)
	for _, st := range sourceTypes {
		g.Go(func() error {
			matches, err := c.sample(ctx, st)
			if err != nil {
				return fmt.Errorf("sample %s: %w", st, err)
			}
			mu.Lock()
			samples[st] = matches
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

// CheckCoverage compares sampled source IDs and jurisdictions against
// the expected targets.
func (c *Checker) CheckCoverage(ctx context.Context) (*CoverageReport, error) {
	samples, err := c.sampleAll(ctx)
	if err != nil {
		return nil, err
	}

	// Federal chunks all share jurisdiction "US"; per-title presence
	// is read from source_id instead.
	indexed := make(map[string]map[string]bool, len(sourceTypes))
	for st, matches := range samples {
		ids := make(map[string]bool, len(matches))
		field := "jurisdiction"
		if st == cite.SourceFederal {
			field = "source_id"
		}
		for _, m := range matches {
			if id, ok := m.Metadata[field].(string); ok && id != "" {
				ids[id] = true
			}
		}
		indexed[st] = ids
	}

	report := &CoverageReport{
		BySourceType: make(map[string]SourceCoverage, len(sourceTypes)),
		GeneratedAt:  c.now().UTC(),
	}
	perType := make(map[string]*SourceCoverage, len(sourceTypes))
	for _, st := range sourceTypes {
		perType[st] = &SourceCoverage{Sampled: len(samples[st])}
	}

	for _, target := range c.targets() {
		status := "missing"
		if indexed[target.SourceType][target.ID] {
			status = "active"
			report.TotalIndexed++
			perType[target.SourceType].Indexed++
		} else {
			report.Gaps = append(report.Gaps, target.ID)
		}
		report.TotalExpected++
		perType[target.SourceType].Expected++
		report.Jurisdictions = append(report.Jurisdictions, TargetStatus{
			ID:         target.ID,
			SourceType: target.SourceType,
			Status:     status,
		})
	}

	for st, cov := range perType {
		if cov.Expected > 0 {
			cov.Percent = 100 * float64(cov.Indexed) / float64(cov.Expected)
		}
		report.BySourceType[st] = *cov
	}
	if report.TotalExpected > 0 {
		report.CoveragePercent = 100 * float64(report.TotalIndexed) / float64(report.TotalExpected)
	}
	return report, nil
}

// ValidateQuality inspects up to qualitySampleCap chunks per source
// type: token distribution, metadata completeness, citation coverage,
// and required-field issues.
func (c *Checker) ValidateQuality(ctx context.Context) ([]*QualityReport, error) {
	samples, err := c.sampleAll(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*QualityReport, 0, len(sourceTypes))
	for _, st := range sourceTypes {
		matches := samples[st]
		if len(matches) > qualitySampleCap {
			matches = matches[:qualitySampleCap]
		}
		reports = append(reports, c.quality(st, matches))
	}
	return reports, nil
}

// optionalFields get completeness counts; requiredFields must be
// present and non-empty on every chunk.
var (
	optionalFields = []string{"subsection", "category", "hierarchy", "effective_date", "last_amended", "last_updated", "indexed_at"}
	requiredFields = []string{"source_id", "jurisdiction", "citation", "url", "text"}
)

func (c *Checker) quality(sourceType string, matches []vecindex.Match) *QualityReport {
	report := &QualityReport{
		SourceType:  sourceType,
		Samples:     len(matches),
		FieldCounts: make(map[string]int, len(optionalFields)),
	}
	if len(matches) == 0 {
		return report
	}

	var tokens []int
	cited := 0
	for _, m := range matches {
		text, _ := m.Metadata["text"].(string)
		count := c.Counter.Count(text)
		tokens = append(tokens, count)

		if s, _ := m.Metadata["citation"].(string); s != "" {
			cited++
		}
		for _, field := range optionalFields {
			if present(m.Metadata[field]) {
				report.FieldCounts[field]++
			}
		}
		for _, field := range requiredFields {
			if !present(m.Metadata[field]) {
				report.Issues = append(report.Issues, Issue{
					ChunkID: m.ID,
					Issue:   "missing required field " + field,
				})
			}
		}
		if budget := c.maxChunkTokens(); count > budget {
			report.Issues = append(report.Issues, Issue{
				ChunkID: m.ID,
				Issue:   fmt.Sprintf("text exceeds %d tokens", budget),
			})
		}
	}

	report.Tokens = distribution(tokens)
	report.CitationCoveragePct = 100 * float64(cited) / float64(len(matches))
	return report
}

func (c *Checker) maxChunkTokens() int {
	if c.Ingestion.MaxChunkTokens <= 0 {
		return 1500
	}
	return c.Ingestion.MaxChunkTokens
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func distribution(tokens []int) TokenDistribution {
	if len(tokens) == 0 {
		return TokenDistribution{}
	}
	sorted := append([]int(nil), tokens...)
	sort.Ints(sorted)

	sum := 0
	for _, n := range sorted {
		sum += n
	}
	return TokenDistribution{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   float64(sum) / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile uses the nearest-rank method over an ascending slice.
func percentile(sorted []int, q float64) int {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// CheckStorage verifies each expected jurisdiction has at least one
// object under its canonical prefix.
func (c *Checker) CheckStorage(ctx context.Context) (*StorageReport, error) {
	report := &StorageReport{}
	check := func(prefix, id string) error {
		keys, err := c.Store.List(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		if len(keys) == 0 {
			report.MissingFolders = append(report.MissingFolders, prefix)
			report.JurisdictionsWithoutData = append(report.JurisdictionsWithoutData, id)
		}
		return nil
	}

	for _, title := range c.Ingestion.FederalTitles {
		if err := check(objstore.SourcePrefix(cite.SourceFederal, "", title), cite.FederalSourceID(title)); err != nil {
			return nil, err
		}
	}
	if err := check(objstore.SourcePrefix(cite.SourceState, "TX", 0), "TX"); err != nil {
		return nil, err
	}
	for _, county := range c.counties() {
		if err := check(objstore.SourcePrefix(cite.SourceCounty, county.Jurisdiction(), 0), county.Jurisdiction()); err != nil {
			return nil, err
		}
	}
	for _, city := range c.cities() {
		if err := check(objstore.SourcePrefix(cite.SourceMunicipal, city.Jurisdiction(), 0), city.Jurisdiction()); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// FullReport runs coverage, quality, and storage checks together.
func (c *Checker) FullReport(ctx context.Context) (*Report, error) {
	coverage, err := c.CheckCoverage(ctx)
	if err != nil {
		return nil, err
	}
	quality, err := c.ValidateQuality(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := c.CheckStorage(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{
		Coverage:    coverage,
		Quality:     quality,
		Storage:     storage,
		GeneratedAt: c.now().UTC(),
	}, nil
}
