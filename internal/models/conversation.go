package models

import "time"

// Conversation is one participant's window onto a peer. Each side of a
// private chat and each member of a group owns its own row.
type Conversation struct {
	ID                      string
	UserID                  string
	UserType                ObjectType
	UserOrganizationCode    string
	ReceiveID               string
	ReceiveType             ConversationType
	ReceiveOrganizationCode string
	IsHidden                bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (c *Conversation) Owner() ObjectRef {
	return ObjectRef{ID: c.UserID, Type: c.UserType, OrganizationCode: c.UserOrganizationCode}
}
