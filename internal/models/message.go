package models

import "time"

// Message is the logical message shared by all of its Seq renderings. It is
// created once; edits append MessageVersion rows and move CurrentVersionID.
type Message struct {
	DelightfulMessageID     string
	SenderID                string
	SenderType              ObjectType
	SenderOrganizationCode  string
	ReceiveID               string
	ReceiveType             ConversationType
	ReceiveOrganizationCode string
	AppMessageID            string
	MessageType             MessageType
	Content                 Content
	SendTime                time.Time
	CurrentVersionID        string
}

func (m *Message) Sender() ObjectRef {
	return ObjectRef{ID: m.SenderID, Type: m.SenderType, OrganizationCode: m.SenderOrganizationCode}
}

// MessageVersion is an append-only content snapshot.
type MessageVersion struct {
	DelightfulMessageID string
	VersionID           string
	MessageType         MessageType
	Content             Content
	CreatedAt           time.Time
}

// MessageDraft is an unsent chat message as submitted by a human or agent.
type MessageDraft struct {
	Sender                  ObjectRef
	ReceiveID               string
	ReceiveType             ConversationType
	ReceiveOrganizationCode string
	MessageType             MessageType
	Content                 Content
	// ReferMessageID is in the sender's own id space.
	ReferMessageID string
	TopicID        string
}

// Receiver returns the peer the draft is addressed to.
func (d *MessageDraft) Receiver() ObjectRef {
	return ObjectRef{ID: d.ReceiveID, Type: d.ReceiveType.PeerObjectType(), OrganizationCode: d.ReceiveOrganizationCode}
}
