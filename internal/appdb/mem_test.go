package appdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/errors"
)

func TestMem_ExchangeRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := NewMem()

	conv, err := db.CreateConversation(ctx, "user-1", "food truck permits")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, conv.ID)

	user := &Message{Role: RoleUser, Text: "Do I need a permit?", Address: "800 Congress Ave, Austin, TX"}
	assistant := &Message{
		Role:          RoleAssistant,
		AnswerText:    "### Federal\nYou need a permit [1].",
		Summary:       "A permit is required.",
		Jurisdictions: []string{"US", "TX"},
		Citations:     []Citation{{Index: 1, ChunkID: "cfr-title-21-t21-p117-117.3-0", Citation: "21 C.F.R. § 117.3", URL: "https://example.com"}},
		Permits:       []Permit{{Name: "Food Dealer's Permit", IssuingAgency: "Houston Health Department", Jurisdiction: "TX-houston", RegulatoryReference: "Houston, Tex., Code § 20-21"}},
		Confidence:    "Medium",
	}
	require.NoError(t, db.AppendExchange(ctx, conv.ID, user, assistant))

	got, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, []string{"US", "TX"}, got.Messages[1].Jurisdictions)
	require.Len(t, got.Messages[1].Citations, 1)
	assert.Equal(t, 1, got.Messages[1].Citations[0].Index)
	assert.Equal(t, "Medium", got.Messages[1].Confidence)
	assert.NotEqual(t, uuid.Nil, got.Messages[0].ID)
}

func TestMem_AppendToMissingConversation(t *testing.T) {
	db := NewMem()
	err := db.AppendExchange(context.Background(), uuid.New(), &Message{Role: RoleUser}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMem_GetMissingConversation(t *testing.T) {
	db := NewMem()
	_, err := db.GetConversation(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMem_ListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := NewMem()

	base := time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC)
	step := 0
	db.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	first, err := db.CreateConversation(ctx, "user-1", "first")
	require.NoError(t, err)
	second, err := db.CreateConversation(ctx, "user-1", "second")
	require.NoError(t, err)
	_, err = db.CreateConversation(ctx, "user-2", "other user")
	require.NoError(t, err)

	// Touching the first conversation makes it most recent.
	require.NoError(t, db.AppendExchange(ctx, first.ID, &Message{Role: RoleUser, Text: "hi"}, nil))

	convs, err := db.ListConversations(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)
	assert.Nil(t, convs[0].Messages)

	limited, err := db.ListConversations(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMem_StatusUpserts(t *testing.T) {
	ctx := context.Background()
	db := NewMem()

	require.NoError(t, db.UpdateSourceStatus(ctx, SourceStatus{SourceType: "federal", Status: "active", TotalVectors: 1200}))
	require.NoError(t, db.UpdateSourceStatus(ctx, SourceStatus{SourceType: "federal", Status: "active", TotalVectors: 1500}))
	assert.Equal(t, 1500, db.SourceStatuses()["federal"].TotalVectors)

	require.NoError(t, db.UpdateJurisdiction(ctx, JurisdictionRecord{ID: "TX-48201", Name: "Harris", Type: "county", Parent: "TX", IsActive: true}))
	rec := db.Jurisdictions()["TX-48201"]
	assert.Equal(t, "Harris", rec.Name)
	assert.True(t, rec.IsActive)
}
