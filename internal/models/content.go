package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saashqdev/delightful-im/internal/apperr"
)

// MessageType tags both the content payload and the Seq kind.
type MessageType string

// Chat message types.
const (
	MessageTypeText     MessageType = "text"
	MessageTypeMarkdown MessageType = "markdown"
	MessageTypeRichText MessageType = "rich_text"
	MessageTypeFiles    MessageType = "files"
)

// Control message types.
const (
	MessageTypeSeenMessages  MessageType = "seen_messages"
	MessageTypeReadMessages  MessageType = "read_messages"
	MessageTypeRevokeMessage MessageType = "revoke_message"
)

func (t MessageType) IsControl() bool {
	switch t {
	case MessageTypeSeenMessages, MessageTypeReadMessages, MessageTypeRevokeMessage:
		return true
	}
	return false
}

func (t MessageType) IsChat() bool {
	_, ok := contentRegistry[t]
	return ok && !t.IsControl()
}

// ChatMessageTypes lists every chat type, used as the default filter for
// idempotency checks.
func ChatMessageTypes() []MessageType {
	return []MessageType{MessageTypeText, MessageTypeMarkdown, MessageTypeRichText, MessageTypeFiles}
}

// Content is the sum type of message payloads. Each message type has exactly
// one concrete struct; JSON is produced only at the store/transport boundary.
type Content interface {
	MessageType() MessageType
}

// StreamStatus tracks an incrementally generated message.
type StreamStatus string

const (
	StreamStatusStart      StreamStatus = "start"
	StreamStatusProcessing StreamStatus = "processing"
	StreamStatusCompleted  StreamStatus = "completed"
)

type StreamOptions struct {
	Stream bool         `json:"stream"`
	Status StreamStatus `json:"status"`
}

// Streamable is implemented by content that can arrive in fragments.
type Streamable interface {
	Content
	GetStreamOptions() *StreamOptions
	SetStreamOptions(*StreamOptions)
}

type TextContent struct {
	Content       string         `json:"content"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

func (*TextContent) MessageType() MessageType           { return MessageTypeText }
func (c *TextContent) GetStreamOptions() *StreamOptions  { return c.StreamOptions }
func (c *TextContent) SetStreamOptions(o *StreamOptions) { c.StreamOptions = o }

type MarkdownContent struct {
	Content       string         `json:"content"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

func (*MarkdownContent) MessageType() MessageType           { return MessageTypeMarkdown }
func (c *MarkdownContent) GetStreamOptions() *StreamOptions  { return c.StreamOptions }
func (c *MarkdownContent) SetStreamOptions(o *StreamOptions) { c.StreamOptions = o }

type RichTextContent struct {
	Content string `json:"content"`
}

func (*RichTextContent) MessageType() MessageType { return MessageTypeRichText }

type Attachment struct {
	FileID string `json:"file_id"`
	Name   string `json:"name,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

type FilesContent struct {
	Files []Attachment `json:"files"`
}

func (*FilesContent) MessageType() MessageType { return MessageTypeFiles }

// SeenMessagesContent is the receipt payload; ids are local to the Seq owner.
type SeenMessagesContent struct {
	ReferMessageIDs []string `json:"refer_message_ids"`
}

func (*SeenMessagesContent) MessageType() MessageType { return MessageTypeSeenMessages }

type ReadMessagesContent struct {
	ReferMessageIDs []string `json:"refer_message_ids"`
}

func (*ReadMessagesContent) MessageType() MessageType { return MessageTypeReadMessages }

type RevokeMessageContent struct {
	ReferMessageID string `json:"refer_message_id"`
}

func (*RevokeMessageContent) MessageType() MessageType { return MessageTypeRevokeMessage }

var contentRegistry = map[MessageType]func() Content{
	MessageTypeText:          func() Content { return &TextContent{} },
	MessageTypeMarkdown:      func() Content { return &MarkdownContent{} },
	MessageTypeRichText:      func() Content { return &RichTextContent{} },
	MessageTypeFiles:         func() Content { return &FilesContent{} },
	MessageTypeSeenMessages:  func() Content { return &SeenMessagesContent{} },
	MessageTypeReadMessages:  func() Content { return &ReadMessagesContent{} },
	MessageTypeRevokeMessage: func() Content { return &RevokeMessageContent{} },
}

// EncodeContent serializes a payload for storage or transport.
func EncodeContent(c Content) (json.RawMessage, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// DecodeContent rebuilds the typed payload for t from raw JSON.
func DecodeContent(t MessageType, raw []byte) (Content, error) {
	factory, ok := contentRegistry[t]
	if !ok {
		return nil, apperr.InvalidArgument("unknown message type %q", t)
	}
	c := factory()
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, apperr.InvalidArgument("malformed %s content: %v", t, err)
	}
	return c, nil
}

// ValidateChatContent checks that c is a non-empty chat payload of type t.
func ValidateChatContent(t MessageType, c Content) error {
	if !t.IsChat() {
		return apperr.InvalidArgument("message type %q is not a chat type", t)
	}
	if c == nil {
		return apperr.InvalidArgument("content is required")
	}
	if c.MessageType() != t {
		return apperr.InvalidArgument("content kind %q does not match message type %q", c.MessageType(), t)
	}
	switch v := c.(type) {
	case *TextContent:
		if strings.TrimSpace(v.Content) == "" && !isStreaming(v.StreamOptions) {
			return apperr.InvalidArgument("text content is empty")
		}
	case *MarkdownContent:
		if strings.TrimSpace(v.Content) == "" && !isStreaming(v.StreamOptions) {
			return apperr.InvalidArgument("markdown content is empty")
		}
	case *RichTextContent:
		if strings.TrimSpace(v.Content) == "" {
			return apperr.InvalidArgument("rich text content is empty")
		}
	case *FilesContent:
		if len(v.Files) == 0 {
			return apperr.InvalidArgument("files content has no attachments")
		}
		for i, f := range v.Files {
			if f.FileID == "" {
				return apperr.InvalidArgument("files[%d] has no file_id", i)
			}
		}
	default:
		return fmt.Errorf("unhandled chat content %T", c)
	}
	return nil
}

func isStreaming(o *StreamOptions) bool {
	return o != nil && o.Stream
}
