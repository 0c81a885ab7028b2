package appdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regscope/regscope/internal/errors"
)

// Mem is an in-memory Store for tests.
type Mem struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	sources       map[string]SourceStatus
	jurisdictions map[string]JurisdictionRecord
	now           func() time.Time
}

// Compile-time interface check.
var _ Store = (*Mem)(nil)

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		conversations: make(map[uuid.UUID]*Conversation),
		sources:       make(map[string]SourceStatus),
		jurisdictions: make(map[string]JurisdictionRecord),
		now:           time.Now,
	}
}

// CreateConversation implements Store.
func (m *Mem) CreateConversation(_ context.Context, userID, title string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	return &Conversation{ID: conv.ID, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// AppendExchange implements Store.
func (m *Mem) AppendExchange(_ context.Context, conversationID uuid.UUID, user, assistant *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return errors.NotFound("conversation " + conversationID.String())
	}

	now := m.now().UTC()
	for _, msg := range []*Message{user, assistant} {
		if msg == nil {
			continue
		}
		msg.ID = uuid.New()
		msg.ConversationID = conversationID
		msg.CreatedAt = now
		conv.Messages = append(conv.Messages, msg)
	}
	conv.UpdatedAt = now
	return nil
}

// GetConversation implements Store.
func (m *Mem) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, errors.NotFound("conversation " + id.String())
	}
	out := *conv
	out.Messages = append([]*Message(nil), conv.Messages...)
	return &out, nil
}

// ListConversations implements Store.
func (m *Mem) ListConversations(_ context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.UserID != userID {
			continue
		}
		out := *conv
		out.Messages = nil
		convs = append(convs, &out)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// UpdateSourceStatus implements Store.
func (m *Mem) UpdateSourceStatus(_ context.Context, status SourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[status.SourceType] = status
	return nil
}

// UpdateJurisdiction implements Store.
func (m *Mem) UpdateJurisdiction(_ context.Context, rec JurisdictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jurisdictions[rec.ID] = rec
	return nil
}

// SourceStatuses returns the recorded freshness records; test helper.
func (m *Mem) SourceStatuses() map[string]SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SourceStatus, len(m.sources))
	for k, v := range m.sources {
		out[k] = v
	}
	return out
}

// Jurisdictions returns the recorded jurisdiction records; test helper.
func (m *Mem) Jurisdictions() map[string]JurisdictionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]JurisdictionRecord, len(m.jurisdictions))
	for k, v := range m.jurisdictions {
		out[k] = v
	}
	return out
}
