// Package vecindex provides the vector index abstraction used for chunk
// storage and similarity retrieval, plus the metadata filter grammar the
// index service understands.
package vecindex

import "context"

// Record is a vector with its chunk metadata, keyed by chunk ID.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is a query hit with its cosine similarity score.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query describes a similarity query against the index.
type Query struct {
	Vector          []float32
	TopK            int
	Filter          Filter
	IncludeValues   bool
	IncludeMetadata bool
}

// Stats summarizes the index contents.
type Stats struct {
	VectorCount int `json:"vector_count"`
	Dimension   int `json:"dimension"`
}

// Index is the vector index contract. Upsert is idempotent on record ID;
// re-ingesting a section overwrites its chunks in place.
type Index interface {
	// Upsert writes records, overwriting any existing record with the
	// same ID.
	Upsert(ctx context.Context, records []Record) error

	// Search runs a similarity query and returns matches in descending
	// score order.
	Search(ctx context.Context, q Query) ([]Match, error)

	// DeleteByIDs removes records by ID. Missing IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	// Describe returns index statistics.
	Describe(ctx context.Context) (Stats, error)
}
