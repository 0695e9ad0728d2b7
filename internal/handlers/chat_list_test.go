package handlers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chambalink/backend/internal/models"
)

func TestAssembleConversationList(t *testing.T) {
	clientID := uuid.New()
	proID := uuid.New()
	convA := models.Conversation{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		ClientID:       clientID,
		ProfessionalID: proID,
		LastActivityAt: time.Now(),
		Request:        &models.ServiceRequest{Title: "Pintar la sala"},
		Client:         &models.User{ID: clientID, Name: "Ana", Role: models.RoleClient},
	}
	convB := models.Conversation{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		ClientID:       clientID,
		ProfessionalID: uuid.New(),
		LastActivityAt: time.Now().Add(-time.Hour),
	}

	lastMsg := &models.Message{ID: uuid.New(), ConversationID: convA.ID, SenderID: proID}

	out := assembleConversationList(
		[]models.Conversation{convA, convB},
		map[uuid.UUID]int64{convA.ID: 3},
		map[uuid.UUID]*models.Message{convA.ID: lastMsg},
		map[uuid.UUID]string{convA.ID: string(models.OfferStatusAccepted)},
	)

	require.Len(t, out, 2)

	a := out[0]
	assert.Equal(t, convA.ID.String(), a.ID)
	assert.Equal(t, int64(3), a.UnreadCount)
	assert.Equal(t, "Pintar la sala", a.RequestTitle)
	assert.Same(t, lastMsg, a.LastMessage)
	require.NotNil(t, a.LatestOfferStatus)
	assert.Equal(t, "accepted", *a.LatestOfferStatus)
	require.NotNil(t, a.Client)
	assert.Equal(t, "Ana", a.Client.Name)
	assert.Nil(t, a.Professional)

	// A conversation without messages or offers renders with zero values,
	// not misses.
	b := out[1]
	assert.Equal(t, int64(0), b.UnreadCount)
	assert.Nil(t, b.LastMessage)
	assert.Nil(t, b.LatestOfferStatus)
	assert.Empty(t, b.RequestTitle)
}
