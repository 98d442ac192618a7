package models

// ObjectType identifies who owns a Seq row.
type ObjectType string

const (
	ObjectTypeUser  ObjectType = "user"
	ObjectTypeAi    ObjectType = "ai"
	ObjectTypeGroup ObjectType = "group"
)

func (t ObjectType) Valid() bool {
	switch t {
	case ObjectTypeUser, ObjectTypeAi, ObjectTypeGroup:
		return true
	}
	return false
}

// ConversationType is the kind of peer a conversation window points at.
type ConversationType string

const (
	ConversationTypeUser                  ConversationType = "user"
	ConversationTypeAi                    ConversationType = "ai"
	ConversationTypeGroup                 ConversationType = "group"
	ConversationTypeSystem                ConversationType = "system"
	ConversationTypeCloudDocument         ConversationType = "cloud_document"
	ConversationTypeMultidimensionalTable ConversationType = "multidimensional_table"
	ConversationTypeTopic                 ConversationType = "topic"
	ConversationTypeApp                   ConversationType = "app"
)

// IsOneToOne reports a private human-to-human or human-to-agent conversation.
func (t ConversationType) IsOneToOne() bool {
	return t == ConversationTypeUser || t == ConversationTypeAi
}

// IsGroupLike reports conversations that fan out to a member list.
func (t ConversationType) IsGroupLike() bool {
	return t == ConversationTypeGroup || t == ConversationTypeTopic
}

// ConversationTypeFor maps the peer of a private conversation to its window type.
func ConversationTypeFor(peer ObjectType) ConversationType {
	switch peer {
	case ObjectTypeAi:
		return ConversationTypeAi
	case ObjectTypeGroup:
		return ConversationTypeGroup
	default:
		return ConversationTypeUser
	}
}

// ObjectRef names a participant together with its tenant.
type ObjectRef struct {
	ID               string     `json:"id"`
	Type             ObjectType `json:"type"`
	OrganizationCode string     `json:"organization_code"`
}

// PeerObjectType is the owner type of the peer a window of type t points at.
func (t ConversationType) PeerObjectType() ObjectType {
	switch t {
	case ConversationTypeAi:
		return ObjectTypeAi
	case ConversationTypeGroup, ConversationTypeTopic:
		return ObjectTypeGroup
	default:
		return ObjectTypeUser
	}
}
