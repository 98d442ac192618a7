package models

import (
	"errors"
	"testing"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContentRoundTrip(t *testing.T) {
	raw, err := EncodeContent(&TextContent{Content: "hi", StreamOptions: &StreamOptions{Stream: true, Status: StreamStatusStart}})
	require.NoError(t, err)

	c, err := DecodeContent(MessageTypeText, raw)
	require.NoError(t, err)
	text, ok := c.(*TextContent)
	require.True(t, ok)
	assert.Equal(t, "hi", text.Content)
	assert.Equal(t, StreamStatusStart, text.GetStreamOptions().Status)
}

func TestDecodeContentUnknownType(t *testing.T) {
	_, err := DecodeContent("sticker", []byte(`{}`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestMessageTypeClassification(t *testing.T) {
	assert.True(t, MessageTypeText.IsChat())
	assert.False(t, MessageTypeText.IsControl())
	assert.True(t, MessageTypeSeenMessages.IsControl())
	assert.False(t, MessageTypeSeenMessages.IsChat())
	assert.False(t, MessageType("unknown").IsChat())
}

func TestValidateChatContent(t *testing.T) {
	assert.NoError(t, ValidateChatContent(MessageTypeText, &TextContent{Content: "x"}))
	assert.Error(t, ValidateChatContent(MessageTypeText, &TextContent{}))
	assert.NoError(t, ValidateChatContent(MessageTypeMarkdown, &MarkdownContent{StreamOptions: &StreamOptions{Stream: true}}))
	assert.Error(t, ValidateChatContent(MessageTypeText, &MarkdownContent{Content: "x"}))
	assert.Error(t, ValidateChatContent(MessageTypeSeenMessages, &SeenMessagesContent{}))
	assert.Error(t, ValidateChatContent(MessageTypeFiles, &FilesContent{Files: []Attachment{{Name: "a"}}}))
}
