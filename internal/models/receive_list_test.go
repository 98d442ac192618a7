package models

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReceiveListDedupes(t *testing.T) {
	rl := NewReceiveList([]string{"u1", "u2", "u1", "", "u3"})
	assert.Equal(t, []string{"u1", "u2", "u3"}, rl.UnreadList)
	assert.Empty(t, rl.SeenList)
	assert.Empty(t, rl.ReadList)
}

func TestReceiveListMoveKeepsPartition(t *testing.T) {
	recipients := []string{"u1", "u2", "u3", "u4"}
	rl := NewReceiveList(recipients)

	require.True(t, rl.Move("u1", SeqStatusSeen))
	require.True(t, rl.Move("u2", SeqStatusRead))
	require.True(t, rl.Move("u1", SeqStatusRead))

	// no regression, no duplicates, unknown ids ignored
	assert.False(t, rl.Move("u1", SeqStatusSeen))
	assert.False(t, rl.Move("u2", SeqStatusRead))
	assert.False(t, rl.Move("stranger", SeqStatusSeen))

	members := rl.Members()
	sort.Strings(members)
	assert.Equal(t, recipients, members)
	assert.Equal(t, len(recipients), rl.Len())

	st, ok := rl.StateOf("u3")
	require.True(t, ok)
	assert.Equal(t, SeqStatusUnread, st)
	st, _ = rl.StateOf("u1")
	assert.Equal(t, SeqStatusRead, st)
}

func TestReceiveListCloneIsIndependent(t *testing.T) {
	rl := NewReceiveList([]string{"u1", "u2"})
	c := rl.Clone()
	c.Move("u1", SeqStatusSeen)

	st, _ := rl.StateOf("u1")
	assert.Equal(t, SeqStatusUnread, st)
}
