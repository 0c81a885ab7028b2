package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/source"
)

// wordCounter stands in for the BPE counter; one token per word keeps
// the budget math exact in fixtures.
var wordCounter = cite.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("tok ", n))
}

// para returns a 200-word paragraph with a recognizable prefix.
func para(i int) string {
	return fmt.Sprintf("p%02d %s", i, words(199))
}

func federalSection(text string) *source.Section {
	return &source.Section{
		SourceType:   "federal",
		Jurisdiction: "US",
		Title:        21,
		Part:         "117",
		SectionID:    "117.3",
		Heading:      "Definitions",
		Text:         text,
		SourceURL:    "https://www.ecfr.gov/current/title-21/part-117/section-117.3",
		LastAmended:  "2020-03-01",
	}
}

func TestSplit_WholeSectionWithinBudget(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)
	sec := federalSection(words(1500))

	chunks, err := c.Split(sec, "food_safety")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, "cfr-title-21-t21-p117-117.3-0", ch.ChunkID)
	assert.Equal(t, "cfr-title-21", ch.SourceID)
	assert.Equal(t, "federal", ch.SourceType)
	assert.Equal(t, "US", ch.Jurisdiction)
	assert.Equal(t, sec.Text, ch.Text)
	assert.Equal(t, "21 C.F.R. § 117.3", ch.Citation)
	assert.Equal(t, 0, ch.ChunkIndex)
	assert.Equal(t, 1, ch.TotalChunks)
	assert.Empty(t, ch.Subsection)
	assert.Equal(t, "food_safety", ch.Category)
	assert.Equal(t, []string{"Title 21", "Part 117", "§ 117.3"}, ch.Hierarchy)
	assert.Equal(t, "2020-03-01", ch.LastUpdated)
}

func TestSplit_OverBudgetParagraphOverlap(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)

	paras := make([]string, 10)
	for i := range paras {
		paras[i] = para(i + 1)
	}
	sec := federalSection(strings.Join(paras, "\n\n"))

	chunks, err := c.Split(sec, "")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, ch := range chunks {
		assert.LessOrEqual(t, wordCounter.Count(ch.Text), 1500)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, 2, ch.TotalChunks)
	}

	// The second chunk is seeded with the first chunk's trailing
	// paragraph.
	assert.True(t, strings.HasSuffix(chunks[0].Text, words(199)))
	assert.Contains(t, chunks[0].Text, "p07")
	assert.True(t, strings.HasPrefix(chunks[1].Text, "p07"))
	assert.Contains(t, chunks[1].Text, "p10")

	assert.Equal(t, "cfr-title-21-t21-p117-117.3-0", chunks[0].ChunkID)
	assert.Equal(t, "cfr-title-21-t21-p117-117.3-1", chunks[1].ChunkID)
}

func TestSplit_SubsectionsBecomeChunks(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)

	subs := []source.Subsection{
		{ID: "(a)", Text: "(a) " + words(999)},
		{ID: "(b)", Text: "(b) " + words(999)},
		{ID: "(c)", Text: "(c) " + words(999)},
	}
	sec := &source.Section{
		SourceType:   "state",
		Jurisdiction: "TX",
		Code:         "PE",
		Chapter:      "30",
		SectionID:    "30.02",
		Text:         subs[0].Text + "\n" + subs[1].Text + "\n" + subs[2].Text,
		Subsections:  subs,
		SourceURL:    "https://statutes.capitol.texas.gov/Docs/PE/htm/PE.30.02.htm",
	}

	chunks, err := c.Split(sec, "")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "(a)", chunks[0].Subsection)
	assert.Equal(t, "Tex. Penal Code Ann. § 30.02(a)", chunks[0].Citation)
	assert.Equal(t, "(b)", chunks[1].Subsection)
	assert.Equal(t, "(c)", chunks[2].Subsection)
	assert.Equal(t, "tx-statute-pe-PE-30.02-0", chunks[0].ChunkID)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, 3, ch.TotalChunks)
	}
}

func TestSplit_OversizedSubsectionFallsBackToParagraphs(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)

	big := "first " + words(899) + "\n\nsecond " + words(899)
	subs := []source.Subsection{
		{ID: "(a)", Text: big},
		{ID: "(b)", Text: "(b) a short closing subsection"},
	}
	sec := &source.Section{
		SourceType:   "state",
		Jurisdiction: "TX",
		Code:         "PE",
		Chapter:      "30",
		SectionID:    "30.05",
		Text:         big + "\n" + subs[1].Text,
		Subsections:  subs,
	}

	chunks, err := c.Split(sec, "")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "(a)", chunks[0].Subsection)
	assert.Equal(t, "(a)", chunks[1].Subsection)
	assert.Equal(t, "(b)", chunks[2].Subsection)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "first"))
	assert.True(t, strings.HasPrefix(chunks[1].Text, "second"))
}

func TestSplit_OverlapYieldsToLargeParagraph(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)
	// Two small paragraphs then one that nearly fills the budget on
	// its own. The overlap seeded after the first chunk closes must
	// give way instead of producing an over-budget chunk.
	text := strings.Join([]string{
		"a " + words(99),
		"b " + words(99),
		"c " + words(1449),
	}, "\n\n")
	sec := federalSection(text)

	chunks, err := c.Split(sec, "")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for _, ch := range chunks {
		assert.LessOrEqual(t, wordCounter.Count(ch.Text), 1500)
	}
	assert.Contains(t, chunks[0].Text, "a ")
	assert.Contains(t, chunks[0].Text, "b ")
	assert.True(t, strings.HasPrefix(chunks[1].Text, "c "))
}

func TestSplit_PathologicalParagraphFailsFast(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)
	// One unbreakable 1600-word paragraph.
	sec := federalSection(words(1600))
	sec.Subsections = nil

	_, err := c.Split(sec, "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "21 C.F.R. § 117.3")
	assert.Contains(t, err.Error(), "1600 tokens")
}

func TestSplitParagraphs(t *testing.T) {
	text := "first paragraph line one\nstill first\n\nsecond paragraph\n    indented starts third"
	paras := splitParagraphs(text)
	require.Len(t, paras, 3)
	assert.Equal(t, "first paragraph line one\nstill first", paras[0])
	assert.Equal(t, "second paragraph", paras[1])
	assert.Equal(t, "indented starts third", paras[2])
}

func TestChunkMetadata(t *testing.T) {
	ch := &Chunk{
		ChunkID:      "cfr-title-21-t21-p117-117.3-0",
		SourceID:     "cfr-title-21",
		SourceType:   "federal",
		Jurisdiction: "US",
		Text:         "body",
		Citation:     "21 C.F.R. § 117.3",
		URL:          "https://example.com",
		ChunkIndex:   0,
		TotalChunks:  1,
		Hierarchy:    []string{"Title 21"},
		IndexedAt:    "2025-08-20T00:00:00Z",
	}

	m := ch.Metadata()
	assert.Equal(t, "federal", m["sourceType"])
	assert.Equal(t, "US", m["jurisdiction"])
	assert.Equal(t, "21 C.F.R. § 117.3", m["citation"])
	assert.Equal(t, "2025-08-20T00:00:00Z", m["indexed_at"])
	assert.NotContains(t, m, "subsection")
	assert.NotContains(t, m, "category")
	assert.NotContains(t, m, "effective_date")
}

func TestLastUpdated_FallsBackToFetchDate(t *testing.T) {
	c := New(wordCounter, 1500, 0.15)
	sec := federalSection("short body text here")
	sec.LastAmended = ""
	sec.FetchedAt = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	chunks, err := c.Split(sec, "")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-20", chunks[0].LastUpdated)
}
