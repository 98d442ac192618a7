// Package store declares the persistence contracts the engines depend on.
// Adapters live in the postgres, mongo and memory subpackages.
package store

import (
	"context"

	"github.com/saashqdev/delightful-im/internal/models"
)

// SequenceStore persists Seq rows. Lookups that find nothing return an
// apperr NotFound error.
type SequenceStore interface {
	CreateSequence(ctx context.Context, seq *models.Seq) error
	BatchCreateSeq(ctx context.Context, seqs []*models.Seq) error
	GetSeqByMessageID(ctx context.Context, messageID string) (*models.Seq, error)

	// GetMinSeqListByDelightfulMessageID returns the canonical rendering of a
	// logical message for every object: the row with the smallest seq id,
	// earliest insert on ties.
	GetMinSeqListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error)
	ListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error)
	FindByAppMessageID(ctx context.Context, appMessageID, objectID string, types []models.MessageType) (*models.Seq, error)
	ExistsControlSeq(ctx context.Context, objectID string, seqType models.MessageType, referMessageID string) (bool, error)

	// LockSeqForUpdate reads a row and holds it until the surrounding
	// transaction ends.
	LockSeqForUpdate(ctx context.Context, messageID string) (*models.Seq, error)

	// UpdateSeqStatus moves the listed rows forward to status. Rows whose
	// current status cannot reach it, revoked rows included, are left alone.
	// It returns the number of rows changed.
	UpdateSeqStatus(ctx context.Context, messageIDs []string, status models.SeqStatus) (int64, error)
	UpdateReceiveList(ctx context.Context, messageID string, list *models.ReceiveList) error
	UpdateSeqExtra(ctx context.Context, messageIDs []string, extra models.SeqExtra) error
}

// ConversationStore owns conversation windows and group membership.
type ConversationStore interface {
	// GetOrCreate returns owner's window onto peer, creating it on first use.
	GetOrCreate(ctx context.Context, owner, peer models.ObjectRef, convType models.ConversationType) (*models.Conversation, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	Unhide(ctx context.Context, id string) error
	// ListGroupMemberIDs lists every member of groupID except excludeID, in join order.
	ListGroupMemberIDs(ctx context.Context, groupID, excludeID string) ([]models.ObjectRef, error)
}

// GroupDirectory maintains group membership. Adding an existing member is a no-op.
type GroupDirectory interface {
	AddGroupMembers(ctx context.Context, groupID string, members ...models.ObjectRef) error
}

// Tx is the set of stores bound to one transaction.
type Tx interface {
	Sequences() SequenceStore
	Conversations() ConversationStore
}

// Transactor runs fn atomically. A non-nil error from fn rolls everything back.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the relational side: sequences and conversations commit together.
type Store interface {
	Tx
	Transactor
}

// MessageStore persists logical messages and their append-only versions.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetByDelightfulMessageID(ctx context.Context, delightfulMessageID string) (*models.Message, error)
	UpdateContentAndVersion(ctx context.Context, delightfulMessageID string, messageType models.MessageType, content models.Content, versionID string) error
	// UpdateContent rewrites the current content in place without a version.
	UpdateContent(ctx context.Context, delightfulMessageID string, content models.Content) error
	CreateVersion(ctx context.Context, version *models.MessageVersion) error
	ListVersions(ctx context.Context, delightfulMessageID string) ([]*models.MessageVersion, error)
}
