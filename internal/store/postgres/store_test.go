package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/database"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

func openTestStore(t *testing.T) (*Store, idgen.Generator) {
	t.Helper()
	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		t.Skip("POSTGRES_URI not set; skipping postgres integration test")
	}
	db, err := sql.Open("postgres", uri)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.InitPostgresTables(ctx, db))

	ids := idgen.NewSnowflake(7)
	return NewStore(db, ids), ids
}

func TestSeqRoundTrip(t *testing.T) {
	s, ids := openTestStore(t)
	ctx := context.Background()
	dm := uuid.NewString()

	sender := &models.Seq{
		SeqID:               ids.NextID(),
		OrganizationCode:    "org",
		ObjectType:          models.ObjectTypeUser,
		ObjectID:            "u-" + dm,
		SeqType:             models.MessageTypeText,
		ReceiveList:         models.NewReceiveList([]string{"a", "b"}),
		AppMessageID:        "app-" + dm,
		DelightfulMessageID: dm,
		MessageID:           ids.NextString(),
		Status:              models.SeqStatusRead,
		Extra:               models.SeqExtra{TopicID: "t1"},
	}
	require.NoError(t, s.Sequences().CreateSequence(ctx, sender))

	got, err := s.Sequences().GetSeqByMessageID(ctx, sender.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sender.ReceiveList, got.ReceiveList)
	assert.Equal(t, "t1", got.Extra.TopicID)
	assert.Nil(t, got.Content)

	found, err := s.Sequences().FindByAppMessageID(ctx, sender.AppMessageID, sender.ObjectID, models.ChatMessageTypes())
	require.NoError(t, err)
	assert.Equal(t, sender.MessageID, found.MessageID)

	n, err := s.Sequences().UpdateSeqStatus(ctx, []string{sender.MessageID}, models.SeqStatusSeen)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "read never moves back to seen")

	_, err = s.Sequences().GetSeqByMessageID(ctx, "missing-"+dm)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransactionRollsBackBatch(t *testing.T) {
	s, ids := openTestStore(t)
	ctx := context.Background()
	dm := uuid.NewString()

	err := s.Transaction(ctx, func(tx store.Tx) error {
		seqs := []*models.Seq{
			{SeqID: ids.NextID(), ObjectType: models.ObjectTypeUser, ObjectID: "x", SeqType: models.MessageTypeText, DelightfulMessageID: dm, MessageID: ids.NextString(), Status: models.SeqStatusUnread},
			{SeqID: ids.NextID(), ObjectType: models.ObjectTypeUser, ObjectID: "y", SeqType: models.MessageTypeText, DelightfulMessageID: dm, MessageID: ids.NextString(), Status: models.SeqStatusUnread},
		}
		if err := tx.Sequences().BatchCreateSeq(ctx, seqs); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	list, err := s.Sequences().ListByDelightfulMessageID(ctx, dm)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConversationAndMembers(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	group := "g-" + uuid.NewString()

	require.NoError(t, s.AddGroupMembers(ctx, group,
		models.ObjectRef{ID: "m1", Type: models.ObjectTypeUser, OrganizationCode: "org"},
		models.ObjectRef{ID: "m2", Type: models.ObjectTypeAi, OrganizationCode: "org"},
	))
	members, err := s.Conversations().ListGroupMemberIDs(ctx, group, "m1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, models.ObjectTypeAi, members[0].Type)

	owner := models.ObjectRef{ID: "m1", Type: models.ObjectTypeUser, OrganizationCode: "org"}
	peer := models.ObjectRef{ID: group, Type: models.ObjectTypeGroup, OrganizationCode: "org"}
	a, err := s.Conversations().GetOrCreate(ctx, owner, peer, models.ConversationTypeGroup)
	require.NoError(t, err)
	b, err := s.Conversations().GetOrCreate(ctx, owner, peer, models.ConversationTypeGroup)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestUnknownStatusIsRejected(t *testing.T) {
	s, ids := openTestStore(t)
	ctx := context.Background()
	dm := uuid.NewString()

	seq := &models.Seq{
		SeqID:               ids.NextID(),
		OrganizationCode:    "org",
		ObjectType:          models.ObjectTypeUser,
		ObjectID:            "u-" + dm,
		SeqType:             models.MessageTypeText,
		DelightfulMessageID: dm,
		MessageID:           ids.NextString(),
		Status:              "delivered",
	}
	assert.ErrorIs(t, s.Sequences().CreateSequence(ctx, seq), apperr.ErrValidation)

	seq.Status = models.SeqStatusUnread
	require.NoError(t, s.Sequences().CreateSequence(ctx, seq))
	_, err := s.db.ExecContext(ctx, `UPDATE delightful_seq SET status = 'delivered' WHERE message_id = $1`, seq.MessageID)
	require.NoError(t, err)

	_, err = s.Sequences().GetSeqByMessageID(ctx, seq.MessageID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
