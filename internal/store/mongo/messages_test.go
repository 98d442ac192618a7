package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/database"
	"github.com/saashqdev/delightful-im/internal/models"
)

func openTestStore(t *testing.T) *MessageStore {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping mongo integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	db := client.Database("delightful_test")
	require.NoError(t, database.EnsureMongoIndexes(ctx, db))
	return NewMessageStore(db)
}

func TestMessageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		DelightfulMessageID: id,
		SenderID:            "u1",
		SenderType:          models.ObjectTypeUser,
		ReceiveID:           "u2",
		ReceiveType:         models.ConversationTypeUser,
		MessageType:         models.MessageTypeFiles,
		Content:             &models.FilesContent{Files: []models.Attachment{{FileID: "f1", Name: "a.png", Size: 42}}},
		SendTime:            time.Now(),
	}))

	got, err := s.GetByDelightfulMessageID(ctx, id)
	require.NoError(t, err)
	files := got.Content.(*models.FilesContent)
	require.Len(t, files.Files, 1)
	assert.Equal(t, int64(42), files.Files[0].Size)

	assert.ErrorIs(t, s.CreateMessage(ctx, &models.Message{DelightfulMessageID: id, MessageType: models.MessageTypeText}), apperr.ErrValidation)

	require.NoError(t, s.CreateVersion(ctx, &models.MessageVersion{
		DelightfulMessageID: id, VersionID: "v0", MessageType: models.MessageTypeFiles, Content: files, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.UpdateContentAndVersion(ctx, id, models.MessageTypeText, &models.TextContent{Content: "edited"}, "v1"))

	got, err = s.GetByDelightfulMessageID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.CurrentVersionID)
	assert.Equal(t, "edited", got.Content.(*models.TextContent).Content)

	versions, err := s.ListVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "v0", versions[0].VersionID)
}
