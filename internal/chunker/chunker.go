// Package chunker segments parsed sections into embedding-ready chunks.
// Sections at or under the token budget pass through whole; larger ones
// split along subsection boundaries, falling back to greedy paragraph
// accumulation with a trailing overlap.
package chunker

import (
	"fmt"
	"strings"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/source"
)

// Chunk is one embedding-ready fragment of a section. Chunk IDs are
// deterministic, so re-ingesting an unchanged section overwrites the
// same index records.
type Chunk struct {
	ChunkID      string `json:"chunk_id"`
	SourceID     string `json:"source_id"`
	SourceType   string `json:"source_type"`
	Jurisdiction string `json:"jurisdiction"`
	Text         string `json:"text"`
	Citation     string `json:"citation"`
	URL          string `json:"url"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`

	Subsection    string   `json:"subsection,omitempty"`
	Category      string   `json:"category,omitempty"`
	Hierarchy     []string `json:"hierarchy,omitempty"`
	EffectiveDate string   `json:"effective_date,omitempty"`
	LastAmended   string   `json:"last_amended,omitempty"`
	LastUpdated   string   `json:"last_updated,omitempty"`
	IndexedAt     string   `json:"indexed_at,omitempty"`
}

// Metadata returns the vector-record metadata for the chunk. Field
// names here are the retrieval filter vocabulary; sourceType is
// camel-cased to match it.
func (ch *Chunk) Metadata() map[string]any {
	m := map[string]any{
		"chunk_id":     ch.ChunkID,
		"source_id":    ch.SourceID,
		"sourceType":   ch.SourceType,
		"jurisdiction": ch.Jurisdiction,
		"text":         ch.Text,
		"citation":     ch.Citation,
		"url":          ch.URL,
		"chunk_index":  ch.ChunkIndex,
		"total_chunks": ch.TotalChunks,
	}
	if ch.Subsection != "" {
		m["subsection"] = ch.Subsection
	}
	if ch.Category != "" {
		m["category"] = ch.Category
	}
	if len(ch.Hierarchy) > 0 {
		m["hierarchy"] = ch.Hierarchy
	}
	if ch.EffectiveDate != "" {
		m["effective_date"] = ch.EffectiveDate
	}
	if ch.LastAmended != "" {
		m["last_amended"] = ch.LastAmended
	}
	if ch.LastUpdated != "" {
		m["last_updated"] = ch.LastUpdated
	}
	if ch.IndexedAt != "" {
		m["indexed_at"] = ch.IndexedAt
	}
	return m
}

// Chunker applies the splitting procedure with a fixed token budget.
type Chunker struct {
	counter       cite.Counter
	maxTokens     int
	overlapTokens int
}

// New creates a chunker. overlapRatio is the fraction of maxTokens
// reserved for the trailing-paragraph overlap, e.g. 0.15.
func New(counter cite.Counter, maxTokens int, overlapRatio float64) *Chunker {
	return &Chunker{
		counter:       counter,
		maxTokens:     maxTokens,
		overlapTokens: int(float64(maxTokens) * overlapRatio),
	}
}

// piece is a chunk body before identity and metadata are attached.
type piece struct {
	text       string
	subsection string
}

// Split turns one section into its chunks. category is the optional
// activity tag carried into chunk metadata.
//
// A section within budget becomes exactly one chunk. Over budget, each
// detected subsection becomes a chunk (itself paragraph-split when too
// large); with no subsections the whole text is paragraph-split. Any
// chunk still over budget afterwards is a validation error, never
// silently truncated.
func (c *Chunker) Split(sec *source.Section, category string) ([]*Chunk, error) {
	var pieces []piece

	switch {
	case c.counter.Count(sec.Text) <= c.maxTokens:
		pieces = []piece{{text: sec.Text}}
	case len(sec.Subsections) > 0:
		for _, sub := range sec.Subsections {
			if c.counter.Count(sub.Text) <= c.maxTokens {
				pieces = append(pieces, piece{text: sub.Text, subsection: sub.ID})
				continue
			}
			for _, p := range c.packParagraphs(sub.Text) {
				pieces = append(pieces, piece{text: p, subsection: sub.ID})
			}
		}
	default:
		for _, p := range c.packParagraphs(sec.Text) {
			pieces = append(pieces, piece{text: p})
		}
	}

	chunks := make([]*Chunk, len(pieces))
	for i, pc := range pieces {
		chunks[i] = &Chunk{
			ChunkID:       cite.ChunkID(sec.SourceID(), sec.Key(), i),
			SourceID:      sec.SourceID(),
			SourceType:    sec.SourceType,
			Jurisdiction:  sec.Jurisdiction,
			Text:          pc.text,
			Citation:      cite.WithSubsection(sec.Citation(), pc.subsection),
			URL:           sec.SourceURL,
			ChunkIndex:    i,
			TotalChunks:   len(pieces),
			Subsection:    pc.subsection,
			Category:      category,
			Hierarchy:     sec.Hierarchy(),
			EffectiveDate: sec.EffectiveDate,
			LastAmended:   sec.LastAmended,
			LastUpdated:   lastUpdated(sec),
		}
	}

	if err := c.validate(chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// validate fails fast when any chunk exceeds the budget, listing every
// offender so the caller never embeds an oversized text.
func (c *Chunker) validate(chunks []*Chunk) error {
	var over []string
	for _, ch := range chunks {
		if n := c.counter.Count(ch.Text); n > c.maxTokens {
			over = append(over, fmt.Sprintf("%s (%d tokens)", ch.Citation, n))
		}
	}
	if len(over) > 0 {
		return errors.Newf(errors.ErrCodeValidation,
			"chunks exceed %d-token budget: %s", c.maxTokens, strings.Join(over, "; "))
	}
	return nil
}

// packParagraphs greedily accumulates paragraphs up to the budget. On
// overflow the chunk closes and the next one is seeded with up to
// overlapTokens worth of the most recent full paragraphs, preserving
// cross-references like "as defined in paragraph (a)".
func (c *Chunker) packParagraphs(text string) []string {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var out []string
	var cur []string
	for _, p := range paras {
		if len(cur) > 0 && c.counter.Count(joinParas(append(cur[:len(cur):len(cur)], p))) > c.maxTokens {
			out = append(out, joinParas(cur))
			cur = c.overlapTail(cur)
			// The overlap must never push a paragraph that fits the
			// budget over it; shed its oldest paragraphs until p fits.
			for len(cur) > 0 && c.counter.Count(joinParas(append(cur[:len(cur):len(cur)], p))) > c.maxTokens {
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		out = append(out, joinParas(cur))
	}
	return out
}

// overlapTail returns the longest run of trailing paragraphs that fits
// in the overlap budget. A paragraph larger than the budget yields no
// overlap.
func (c *Chunker) overlapTail(paras []string) []string {
	if c.overlapTokens <= 0 {
		return nil
	}
	var tail []string
	for i := len(paras) - 1; i >= 0; i-- {
		candidate := append([]string{paras[i]}, tail...)
		if c.counter.Count(joinParas(candidate)) > c.overlapTokens {
			break
		}
		tail = candidate
	}
	return tail
}

func joinParas(paras []string) string {
	return strings.Join(paras, "\n\n")
}

// splitParagraphs breaks text at blank lines; an indented line also
// starts a new paragraph.
func splitParagraphs(text string) []string {
	var paras []string
	var cur []string

	flush := func() {
		if len(cur) == 0 {
			return
		}
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			paras = append(paras, p)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			flush()
		}
		cur = append(cur, strings.TrimSpace(line))
	}
	flush()
	return paras
}

// lastUpdated derives the recency date used by retrieval ranking: the
// amendment date when known, otherwise the effective date, otherwise
// the fetch date.
func lastUpdated(sec *source.Section) string {
	switch {
	case sec.LastAmended != "":
		return sec.LastAmended
	case sec.EffectiveDate != "":
		return sec.EffectiveDate
	case !sec.FetchedAt.IsZero():
		return sec.FetchedAt.UTC().Format("2006-01-02")
	}
	return ""
}
