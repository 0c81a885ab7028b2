// Package answer implements the retrieval pipeline: resolve the
// question's jurisdictions, embed it, query the vector index, rerank,
// generate a cited answer, parse it, and persist the exchange.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/embed"
	"github.com/regscope/regscope/internal/geocode"
	"github.com/regscope/regscope/internal/llm"
	"github.com/regscope/regscope/internal/vecindex"
)

// recencyWindow is how far back an update still counts as recent for
// reranking.
const recencyWindow = 365 * 24 * time.Hour

// RetrievedChunk is one index match carried through rerank, prompt
// assembly, and citation lookup.
type RetrievedChunk struct {
	ChunkID      string
	Citation     string
	URL          string
	Jurisdiction string
	Text         string
	LastUpdated  string
	Score        float64 // raw cosine similarity
	Weighted     float64 // rerank score
}

// Confidence grades how well the retrieved context supports an answer.
type Confidence struct {
	Level                string  `json:"level"` // High | Medium | Low
	Score                float64 `json:"score"`
	AvgSimilarity        float64 `json:"avg_similarity"`
	JurisdictionCoverage float64 `json:"jurisdiction_coverage"`
	CitationCoverage     float64 `json:"citation_coverage"`
	Reason               string  `json:"reason"`
}

// Request is one user question, optionally located by address.
type Request struct {
	Question       string
	Address        string
	UserID         string
	ConversationID uuid.UUID // zero starts a new conversation
}

// QueryResult is the answered, parsed, persisted query.
type QueryResult struct {
	QueryID       uuid.UUID
	Answer        string
	Summary       string
	Sections      []AnswerSection
	Jurisdictions []string
	Citations     []appdb.Citation
	Permits       []appdb.Permit
	Confidence    Confidence
	Chunks        []RetrievedChunk
}

// Pipeline wires the retrieval collaborators. DB may be nil; the
// exchange is then not persisted.
type Pipeline struct {
	Geocoder  geocode.Geocoder
	Embedder  embed.Embedder
	Index     vecindex.Index
	Generator llm.Generator
	DB        appdb.Store
	Config    config.RetrievalConfig

	now func() time.Time
}

// NewPipeline creates a retrieval pipeline.
func NewPipeline(geocoder geocode.Geocoder, embedder embed.Embedder, index vecindex.Index, generator llm.Generator, db appdb.Store, cfg config.RetrievalConfig) *Pipeline {
	return &Pipeline{
		Geocoder:  geocoder,
		Embedder:  embedder,
		Index:     index,
		Generator: generator,
		DB:        db,
		Config:    cfg,
		now:       time.Now,
	}
}

// ProcessQuery runs the full pipeline. Failures past jurisdiction
// resolution produce a structured Low-confidence result rather than an
// error; the caller always gets an answer object.
func (p *Pipeline) ProcessQuery(ctx context.Context, req Request) (*QueryResult, error) {
	jurisdictions := p.resolveJurisdictions(ctx, req.Address)

	res, err := p.answer(ctx, req.Question, jurisdictions)
	if err != nil {
		slog.Error("query_pipeline_failed",
			slog.String("error", err.Error()))
		res = p.fallbackResult(jurisdictions, err)
	}

	p.persist(ctx, req, res)
	return res, nil
}

// resolveJurisdictions geocodes the address into the jurisdiction
// chain. Any failure falls back to ["US"] and never propagates.
func (p *Pipeline) resolveJurisdictions(ctx context.Context, address string) []string {
	if address == "" || p.Geocoder == nil {
		return []string{"US"}
	}
	loc, err := p.Geocoder.Resolve(ctx, address)
	if err != nil {
		slog.Warn("geocode_failed",
			slog.String("address", address),
			slog.String("error", err.Error()))
		return []string{"US"}
	}
	return loc.Chain()
}

// answer runs embed, search, rerank, generate, and parse.
func (p *Pipeline) answer(ctx context.Context, question string, jurisdictions []string) (*QueryResult, error) {
	vector, err := p.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	matches, err := p.Index.Search(ctx, vecindex.Query{
		Vector:          vector,
		TopK:            p.topK(),
		Filter:          vecindex.JurisdictionFilter(jurisdictions),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	chunks := p.rerank(toChunks(matches))
	conf := p.confidence(chunks, jurisdictions)

	answerText, err := p.Generator.Generate(ctx, systemPrompt, userPrompt(question, chunks))
	if err != nil {
		return nil, err
	}

	parsed := parseAnswer(answerText, chunks)
	return &QueryResult{
		Answer:        answerText,
		Summary:       parsed.summary,
		Sections:      parsed.sections,
		Jurisdictions: jurisdictions,
		Citations:     parsed.citations,
		Permits:       parsed.permits,
		Confidence:    conf,
		Chunks:        chunks,
	}, nil
}

func (p *Pipeline) topK() int {
	if p.Config.TopK <= 0 {
		return 50
	}
	return p.Config.TopK
}

func (p *Pipeline) finalTopK() int {
	if p.Config.FinalTopK <= 0 {
		return 12
	}
	return p.Config.FinalTopK
}

func (p *Pipeline) minScore() float64 {
	if p.Config.MinRetrievalScore <= 0 {
		return 0.5
	}
	return p.Config.MinRetrievalScore
}

func (p *Pipeline) recencyWeight() float64 {
	if p.Config.RecencyWeight <= 0 {
		return 0.2
	}
	return p.Config.RecencyWeight
}

func toChunks(matches []vecindex.Match) []RetrievedChunk {
	chunks := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, RetrievedChunk{
			ChunkID:      m.ID,
			Citation:     metaString(m.Metadata, "citation"),
			URL:          metaString(m.Metadata, "url"),
			Jurisdiction: metaString(m.Metadata, "jurisdiction"),
			Text:         metaString(m.Metadata, "text"),
			LastUpdated:  metaString(m.Metadata, "last_updated"),
			Score:        m.Score,
		})
	}
	return chunks
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// rerank discards weak matches, boosts recently updated regulations,
// and keeps the final top K.
func (p *Pipeline) rerank(chunks []RetrievedChunk) []RetrievedChunk {
	minScore := p.minScore()
	w := p.recencyWeight()
	cutoff := p.now().Add(-recencyWindow)

	var kept []RetrievedChunk
	for _, ch := range chunks {
		if ch.Score < minScore {
			continue
		}
		ch.Weighted = ch.Score * (1 - w)
		if updatedSince(ch.LastUpdated, cutoff) {
			ch.Weighted += w
		}
		kept = append(kept, ch)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Weighted > kept[j].Weighted
	})
	if k := p.finalTopK(); len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// updatedSince parses a chunk's last_updated date; unparseable dates
// never count as recent.
func updatedSince(date string, cutoff time.Time) bool {
	if date == "" {
		return false
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		t, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return false
		}
	}
	return t.After(cutoff)
}

// confidence computes the three-metric composite over the final set.
func (p *Pipeline) confidence(chunks []RetrievedChunk, targets []string) Confidence {
	if len(chunks) == 0 {
		return Confidence{
			Level:  "Low",
			Reason: fmt.Sprintf("no supporting regulations retrieved for %d target jurisdictions", len(targets)),
		}
	}

	var sum float64
	cited := 0
	seen := make(map[string]bool)
	for _, ch := range chunks {
		sum += ch.Score
		if ch.Citation != "" {
			cited++
		}
		seen[ch.Jurisdiction] = true
	}
	avg := sum / float64(len(chunks))

	covered := 0
	for _, j := range targets {
		if seen[j] {
			covered++
		}
	}
	jurisdictionCov := 0.0
	if len(targets) > 0 {
		jurisdictionCov = float64(covered) / float64(len(targets))
	}
	citationCov := float64(cited) / float64(len(chunks))

	score := 0.5*avg + 0.3*jurisdictionCov + 0.2*citationCov
	level := "Low"
	switch {
	case score > 0.8 && jurisdictionCov == 1.0:
		level = "High"
	case score > 0.6:
		level = "Medium"
	}

	return Confidence{
		Level:                level,
		Score:                score,
		AvgSimilarity:        avg,
		JurisdictionCoverage: jurisdictionCov,
		CitationCoverage:     citationCov,
		Reason: fmt.Sprintf("%d of %d jurisdictions covered, average similarity %.2f",
			covered, len(targets), avg),
	}
}

// fallbackResult is the structured Low-confidence answer returned when
// the pipeline fails internally.
func (p *Pipeline) fallbackResult(jurisdictions []string, cause error) *QueryResult {
	answer := "Unable to retrieve supporting regulations for this question. " +
		"Insufficient coverage for definitive answer."
	return &QueryResult{
		Answer:        answer,
		Summary:       answer,
		Jurisdictions: jurisdictions,
		Confidence: Confidence{
			Level:  "Low",
			Reason: "retrieval failed: " + cause.Error(),
		},
	}
}

// persist writes the exchange; best effort, failures are logged.
func (p *Pipeline) persist(ctx context.Context, req Request, res *QueryResult) {
	if p.DB == nil {
		return
	}

	convID := req.ConversationID
	if convID == uuid.Nil {
		userID := req.UserID
		if userID == "" {
			userID = "local"
		}
		conv, err := p.DB.CreateConversation(ctx, userID, title(req.Question))
		if err != nil {
			slog.Warn("conversation_create_failed", slog.String("error", err.Error()))
			return
		}
		convID = conv.ID
	}

	user := &appdb.Message{Role: appdb.RoleUser, Text: req.Question, Address: req.Address}
	assistant := &appdb.Message{
		Role:          appdb.RoleAssistant,
		AnswerText:    res.Answer,
		Summary:       res.Summary,
		Jurisdictions: res.Jurisdictions,
		Citations:     res.Citations,
		Permits:       res.Permits,
		Confidence:    res.Confidence.Level,
	}
	if err := p.DB.AppendExchange(ctx, convID, user, assistant); err != nil {
		slog.Warn("exchange_persist_failed", slog.String("error", err.Error()))
		return
	}
	res.QueryID = convID
}

// title derives a conversation title from the question.
func title(question string) string {
	const max = 80
	if len(question) <= max {
		return question
	}
	return question[:max]
}
