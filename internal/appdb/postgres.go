package appdb

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regscope/regscope/internal/errors"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// NewPostgres connects to the application database and verifies the
// connection.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	if url == "" {
		return nil, errors.ConfigError("DATABASE_URL is not set", nil)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.ConfigError("connect to application database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConfigError("ping application database", err)
	}
	return &Postgres{db: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.db.Close() }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    text TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    answer_text TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    jurisdictions JSONB NOT NULL DEFAULT '[]'::jsonb,
    citations JSONB NOT NULL DEFAULT '[]'::jsonb,
    permits JSONB NOT NULL DEFAULT '[]'::jsonb,
    confidence TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS sources (
    source_type TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    last_scraped_at TIMESTAMPTZ,
    titles_processed INTEGER NOT NULL DEFAULT 0,
    codes_processed INTEGER NOT NULL DEFAULT 0,
    total_vectors INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jurisdictions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    parent TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    last_scraped_at TIMESTAMPTZ,
    vector_count INTEGER NOT NULL DEFAULT 0
);
`

// EnsureSchema creates the tables when they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// CreateConversation starts a new conversation for a user.
func (p *Postgres) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	conv := &Conversation{UserID: userID, Title: title}
	err := p.db.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		userID, title,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return conv, nil
}

// AppendExchange writes both messages in one transaction.
func (p *Postgres) AppendExchange(ctx context.Context, conversationID uuid.UUID, user, assistant *Message) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range []*Message{user, assistant} {
		if msg == nil {
			continue
		}
		msg.ConversationID = conversationID
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *Message) error {
	jurisdictions, err := json.Marshal(orEmptySlice(msg.Jurisdictions))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	citations, err := json.Marshal(orEmptyCitations(msg.Citations))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	permits, err := json.Marshal(orEmptyPermits(msg.Permits))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (
			conversation_id, role, text, address, answer_text, summary,
			jurisdictions, citations, permits, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		msg.ConversationID, msg.Role, msg.Text, msg.Address,
		msg.AnswerText, msg.Summary,
		jurisdictions, citations, permits, msg.Confidence,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// GetConversation returns a conversation with its messages in order.
func (p *Postgres) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{}
	err := p.db.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("conversation " + id.String())
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}

	rows, err := p.db.Query(ctx,
		`SELECT id, conversation_id, role, text, address, answer_text, summary,
			jurisdictions, citations, permits, confidence, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer rows.Close()

	for rows.Next() {
		msg := &Message{}
		var jurisdictions, citations, permits []byte
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Text, &msg.Address,
			&msg.AnswerText, &msg.Summary,
			&jurisdictions, &citations, &permits,
			&msg.Confidence, &msg.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := json.Unmarshal(jurisdictions, &msg.Jurisdictions); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := json.Unmarshal(citations, &msg.Citations); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := json.Unmarshal(permits, &msg.Permits); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return conv, nil
}

// ListConversations returns a user's most recent conversations without
// messages.
func (p *Postgres) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = $1
		 ORDER BY updated_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return convs, nil
}

// UpdateSourceStatus upserts a source freshness record.
func (p *Postgres) UpdateSourceStatus(ctx context.Context, status SourceStatus) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO sources (
			source_type, status, last_scraped_at,
			titles_processed, codes_processed, total_vectors, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_type) DO UPDATE SET
			status = EXCLUDED.status,
			last_scraped_at = EXCLUDED.last_scraped_at,
			titles_processed = EXCLUDED.titles_processed,
			codes_processed = EXCLUDED.codes_processed,
			total_vectors = EXCLUDED.total_vectors,
			duration_ms = EXCLUDED.duration_ms`,
		status.SourceType, status.Status, nullableTime(status.LastScrapedAt),
		status.TitlesProcessed, status.CodesProcessed, status.TotalVectors, status.DurationMS)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// UpdateJurisdiction upserts a jurisdiction record.
func (p *Postgres) UpdateJurisdiction(ctx context.Context, rec JurisdictionRecord) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO jurisdictions (
			id, name, type, parent, is_active, last_scraped_at, vector_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			parent = EXCLUDED.parent,
			is_active = EXCLUDED.is_active,
			last_scraped_at = EXCLUDED.last_scraped_at,
			vector_count = EXCLUDED.vector_count`,
		rec.ID, rec.Name, rec.Type, rec.Parent, rec.IsActive, rec.LastScrapedAt, rec.VectorCount)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyCitations(s []Citation) []Citation {
	if s == nil {
		return []Citation{}
	}
	return s
}

func orEmptyPermits(s []Permit) []Permit {
	if s == nil {
		return []Permit{}
	}
	return s
}
