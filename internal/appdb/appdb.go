// Package appdb persists query history and source freshness in the
// application database. Conversations and messages are append-only;
// sources and jurisdictions are upserted status records.
package appdb

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation links an [N] marker in an answer to the chunk it cites.
type Citation struct {
	Index    int    `json:"index"`
	ChunkID  string `json:"chunk_id"`
	Citation string `json:"citation"`
	URL      string `json:"url"`
}

// Permit is one required permit extracted from an answer.
type Permit struct {
	Name                string `json:"name"`
	IssuingAgency       string `json:"issuing_agency"`
	Jurisdiction        string `json:"jurisdiction"`
	URL                 string `json:"url,omitempty"`
	RegulatoryReference string `json:"regulatory_reference"`
}

// Message is one turn in a conversation. User messages carry Text and
// optionally Address; assistant messages carry the answer fields.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Text           string
	Address        string
	AnswerText     string
	Summary        string
	Jurisdictions  []string
	Citations      []Citation
	Permits        []Permit
	Confidence     string
	CreatedAt      time.Time
}

// Conversation owns an ordered list of messages.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []*Message
}

// SourceStatus is a freshness record for one source family.
type SourceStatus struct {
	SourceType      string
	Status          string
	LastScrapedAt   time.Time
	TitlesProcessed int
	CodesProcessed  int
	TotalVectors    int
	DurationMS      int64
}

// JurisdictionRecord tracks one jurisdiction's ingestion state.
type JurisdictionRecord struct {
	ID            string // canonical, e.g. "TX-48201"
	Name          string
	Type          string // federal | state | county | municipal
	Parent        string
	IsActive      bool
	LastScrapedAt *time.Time
	VectorCount   int
}

// Store is the persistence surface the pipelines need: append an
// exchange, read history, and record freshness.
type Store interface {
	// CreateConversation starts a new conversation for a user.
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)

	// AppendExchange writes a user message and the assistant reply to a
	// conversation in one atomic operation.
	AppendExchange(ctx context.Context, conversationID uuid.UUID, user, assistant *Message) error

	// GetConversation returns a conversation with its messages in order.
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// ListConversations returns a user's most recent conversations,
	// newest first, without messages.
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)

	// UpdateSourceStatus upserts a source freshness record.
	UpdateSourceStatus(ctx context.Context, status SourceStatus) error

	// UpdateJurisdiction upserts a jurisdiction record.
	UpdateJurisdiction(ctx context.Context, rec JurisdictionRecord) error
}
