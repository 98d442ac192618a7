package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

func newSeq(seqID int64, objectID, messageID, dmID string, status models.SeqStatus) *models.Seq {
	return &models.Seq{
		SeqID:               seqID,
		ObjectID:            objectID,
		ObjectType:          models.ObjectTypeUser,
		SeqType:             models.MessageTypeText,
		MessageID:           messageID,
		DelightfulMessageID: dmID,
		Status:              status,
	}
}

func TestMinSeqListPicksSmallestPerObject(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))
	seqs := s.Sequences()

	require.NoError(t, seqs.BatchCreateSeq(ctx, []*models.Seq{
		newSeq(30, "u1", "m3", "dm", models.SeqStatusRead),
		newSeq(10, "u1", "m1", "dm", models.SeqStatusRead),
		newSeq(20, "u2", "m2", "dm", models.SeqStatusUnread),
		newSeq(20, "u2", "m2b", "dm", models.SeqStatusUnread),
		newSeq(5, "u3", "other", "dm-other", models.SeqStatusUnread),
	}))

	list, err := seqs.GetMinSeqListByDelightfulMessageID(ctx, "dm")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m1", list[0].MessageID)
	// equal seq ids fall back to insertion order
	assert.Equal(t, "m2", list[1].MessageID)
}

func TestUpdateSeqStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))
	seqs := s.Sequences()
	require.NoError(t, seqs.BatchCreateSeq(ctx, []*models.Seq{
		newSeq(1, "u1", "a", "dm", models.SeqStatusUnread),
		newSeq(2, "u2", "b", "dm", models.SeqStatusRevoked),
		newSeq(3, "u3", "c", "dm", models.SeqStatusRead),
	}))

	n, err := seqs.UpdateSeqStatus(ctx, []string{"a", "b", "c"}, models.SeqStatusSeen)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	b, err := seqs.GetSeqByMessageID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.SeqStatusRevoked, b.Status)
	c, err := seqs.GetSeqByMessageID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, models.SeqStatusRead, c.Status)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx store.Tx) error {
		_, err := tx.Conversations().GetOrCreate(ctx,
			models.ObjectRef{ID: "u1", Type: models.ObjectTypeUser},
			models.ObjectRef{ID: "u2", Type: models.ObjectTypeUser},
			models.ConversationTypeUser)
		require.NoError(t, err)
		require.NoError(t, tx.Sequences().CreateSequence(ctx, newSeq(1, "u1", "a", "dm", models.SeqStatusRead)))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Count())

	_, err = s.Sequences().GetSeqByMessageID(ctx, "a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInjectedFaultFailsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))
	s.InjectFault("BatchCreateSeq", errors.New("disk full"))

	err := s.Sequences().BatchCreateSeq(ctx, []*models.Seq{newSeq(1, "u1", "a", "dm", models.SeqStatusRead)})
	assert.Error(t, err)
	assert.NoError(t, s.Sequences().BatchCreateSeq(ctx, []*models.Seq{newSeq(1, "u1", "a", "dm", models.SeqStatusRead)}))
}

func TestBatchCreateRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))

	err := s.Sequences().BatchCreateSeq(ctx, []*models.Seq{
		newSeq(1, "u1", "a", "dm", models.SeqStatusUnread),
		newSeq(2, "u2", "b", "dm", "delivered"),
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 0, s.Count())
}

func TestGetOrCreateIsStable(t *testing.T) {
	ctx := context.Background()
	s := NewStore(idgen.NewSnowflake(1))
	owner := models.ObjectRef{ID: "u1", Type: models.ObjectTypeUser}
	peer := models.ObjectRef{ID: "g1", Type: models.ObjectTypeGroup}

	a, err := s.Conversations().GetOrCreate(ctx, owner, peer, models.ConversationTypeGroup)
	require.NoError(t, err)
	b, err := s.Conversations().GetOrCreate(ctx, owner, peer, models.ConversationTypeGroup)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	s.Hide(a.ID)
	got, err := s.Conversations().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHidden)

	require.NoError(t, s.Conversations().Unhide(ctx, a.ID))
	got, err = s.Conversations().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsHidden)
}

func TestListGroupMembersExcludesSender(t *testing.T) {
	s := NewStore(idgen.NewSnowflake(1))
	require.NoError(t, s.AddGroupMembers(context.Background(), "g1",
		models.ObjectRef{ID: "u1", Type: models.ObjectTypeUser},
		models.ObjectRef{ID: "u2", Type: models.ObjectTypeUser},
		models.ObjectRef{ID: "u2", Type: models.ObjectTypeUser},
		models.ObjectRef{ID: "bot", Type: models.ObjectTypeAi},
	))

	members, err := s.Conversations().ListGroupMemberIDs(context.Background(), "g1", "u1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u2", members[0].ID)
	assert.Equal(t, "bot", members[1].ID)
}

func TestMessageStoreVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMessageStore()
	require.NoError(t, m.CreateMessage(ctx, &models.Message{
		DelightfulMessageID: "dm",
		MessageType:         models.MessageTypeText,
		Content:             &models.TextContent{Content: "hi"},
	}))

	got, err := m.GetByDelightfulMessageID(ctx, "dm")
	require.NoError(t, err)
	got.Content.(*models.TextContent).Content = "mutated"

	again, err := m.GetByDelightfulMessageID(ctx, "dm")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Content.(*models.TextContent).Content)

	require.NoError(t, m.CreateVersion(ctx, &models.MessageVersion{DelightfulMessageID: "dm", VersionID: "v0", MessageType: models.MessageTypeText, Content: &models.TextContent{Content: "hi"}}))
	assert.Error(t, m.CreateVersion(ctx, &models.MessageVersion{DelightfulMessageID: "dm", VersionID: "v0", MessageType: models.MessageTypeText}))

	require.NoError(t, m.UpdateContentAndVersion(ctx, "dm", models.MessageTypeMarkdown, &models.MarkdownContent{Content: "# hi"}, "v1"))
	again, err = m.GetByDelightfulMessageID(ctx, "dm")
	require.NoError(t, err)
	assert.Equal(t, "v1", again.CurrentVersionID)
	assert.Equal(t, models.MessageTypeMarkdown, again.MessageType)

	_, err = m.GetByDelightfulMessageID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
