package vecindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Mem is an in-memory Index used by tests and validation dry runs. It
// evaluates the same filter grammar the index service does.
type Mem struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]Record
}

// Compile-time interface check.
var _ Index = (*Mem)(nil)

// NewMem creates an empty in-memory index with the given dimension.
func NewMem(dimension int) *Mem {
	return &Mem{dimension: dimension, records: make(map[string]Record)}
}

// Upsert writes records, overwriting on ID collision.
func (m *Mem) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		stored := Record{ID: rec.ID, Values: append([]float32(nil), rec.Values...)}
		if rec.Metadata != nil {
			stored.Metadata = make(map[string]any, len(rec.Metadata))
			for k, v := range rec.Metadata {
				stored.Metadata[k] = v
			}
		}
		m.records[rec.ID] = stored
	}
	return nil
}

// Search scores every stored record by cosine similarity, applies the
// filter, and returns the top K in descending score order.
func (m *Mem) Search(_ context.Context, q Query) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, rec := range m.records {
		if !matchesFilter(rec.Metadata, q.Filter) {
			continue
		}
		match := Match{ID: rec.ID, Score: cosine(q.Vector, rec.Values)}
		if q.IncludeMetadata {
			match.Metadata = rec.Metadata
		}
		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// DeleteByIDs removes records by ID.
func (m *Mem) DeleteByIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Describe returns index statistics.
func (m *Mem) Describe(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{VectorCount: len(m.records), Dimension: m.dimension}, nil
}

// Get returns a stored record by ID; used by tests.
func (m *Mem) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchesFilter evaluates the filter grammar against record metadata.
func matchesFilter(metadata map[string]any, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	for key, cond := range filter {
		if key == "$or" {
			if !matchesOr(metadata, cond) {
				return false
			}
			continue
		}
		if !matchesField(metadata[key], cond) {
			return false
		}
	}
	return true
}

func matchesOr(metadata map[string]any, cond any) bool {
	clauses, ok := cond.([]any)
	if !ok {
		return false
	}
	for _, clause := range clauses {
		sub, ok := clause.(map[string]any)
		if ok && matchesFilter(metadata, Filter(sub)) {
			return true
		}
	}
	return false
}

func matchesField(value, cond any) bool {
	if op, ok := cond.(map[string]any); ok {
		in, ok := op["$in"]
		if !ok {
			return false
		}
		values, ok := in.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if value == v {
				return true
			}
		}
		return false
	}
	return value == cond
}
