package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		conv  models.ConversationType
		count int
		kind  Kind
		want  Priority
	}{
		{"private chat", models.ConversationTypeUser, 1, KindChat, Highest},
		{"agent chat", models.ConversationTypeAi, 1, KindChat, Highest},
		{"group of 50", models.ConversationTypeGroup, 50, KindChat, Highest},
		{"group of 100", models.ConversationTypeGroup, 100, KindChat, Highest},
		{"group of 200", models.ConversationTypeGroup, 200, KindChat, Medium},
		{"group of 500", models.ConversationTypeGroup, 500, KindChat, Medium},
		{"group of 2000", models.ConversationTypeGroup, 2000, KindChat, Low},
		{"topic of 600", models.ConversationTypeTopic, 600, KindChat, Low},
		{"cloud document", models.ConversationTypeCloudDocument, 3, KindChat, High},
		{"table", models.ConversationTypeMultidimensionalTable, 3, KindChat, High},
		{"system", models.ConversationTypeSystem, 1, KindChat, Medium},
		{"app", models.ConversationTypeApp, 1, KindChat, Medium},
		{"seen on private chat", models.ConversationTypeUser, 1, KindControl, Highest},
		{"seen on group of 50", models.ConversationTypeGroup, 50, KindControl, Highest},
		{"seen on group of 2000", models.ConversationTypeGroup, 2000, KindControl, Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.conv, tt.count, tt.kind))
		})
	}
}

func TestTopicAndParse(t *testing.T) {
	assert.Equal(t, "delightful:seq:highest", Highest.Topic())
	assert.Equal(t, "delightful:seq:low", Low.Topic())

	for _, p := range All {
		got, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := Parse("urgent")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindControl, KindOf(models.MessageTypeSeenMessages))
	assert.Equal(t, KindChat, KindOf(models.MessageTypeMarkdown))
}
