package models

import (
	"time"
)

// EditOptions marks a rendering whose message has been edited at least once.
type EditOptions struct {
	MessageVersionID string    `json:"message_version_id"`
	EditedAt         time.Time `json:"edited_at"`
}

type SeqExtra struct {
	TopicID     string       `json:"topic_id,omitempty"`
	EditOptions *EditOptions `json:"edit_options,omitempty"`
	EnvID       string       `json:"env_id,omitempty"`
}

// Seq is one per-viewer rendering of a logical message or control event and
// the unit of delivery and status tracking. SeqID doubles as the row id.
//
// Chat Seqs share DelightfulMessageID across every rendering and carry no
// content of their own; control Seqs carry their payload in Content and never
// have a DelightfulMessageID.
type Seq struct {
	SeqID               int64
	OrganizationCode    string
	ObjectType          ObjectType
	ObjectID            string
	SeqType             MessageType
	Content             Content
	ReceiveList         *ReceiveList
	AppMessageID        string
	DelightfulMessageID string
	MessageID           string
	ReferMessageID      string
	SenderMessageID     string
	ConversationID      string
	Status              SeqStatus
	Extra               SeqExtra
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsSenderSide reports whether this is the author's own rendering of a chat message.
func (s *Seq) IsSenderSide() bool {
	return s.SeqType.IsChat() && s.SenderMessageID == ""
}

func (s *Seq) Clone() *Seq {
	if s == nil {
		return nil
	}
	c := *s
	c.ReceiveList = s.ReceiveList.Clone()
	if s.Extra.EditOptions != nil {
		eo := *s.Extra.EditOptions
		c.Extra.EditOptions = &eo
	}
	return &c
}

// Owner returns the viewer this rendering belongs to.
func (s *Seq) Owner() ObjectRef {
	return ObjectRef{ID: s.ObjectID, Type: s.ObjectType, OrganizationCode: s.OrganizationCode}
}
