package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

// MessageStore keeps messages and versions in maps. Content is copied
// through its JSON form on the way in and out so callers never share it.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	versions map[string][]*models.MessageVersion
}

var _ store.MessageStore = (*MessageStore)(nil)

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string]*models.Message),
		versions: make(map[string][]*models.MessageVersion),
	}
}

func copyContent(t models.MessageType, c models.Content) (models.Content, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := models.EncodeContent(c)
	if err != nil {
		return nil, err
	}
	return models.DecodeContent(t, raw)
}

func (m *MessageStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	content, err := copyContent(msg.MessageType, msg.Content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.messages[msg.DelightfulMessageID]; dup {
		return apperr.InvalidArgument("message already exists").WithMessage(msg.DelightfulMessageID)
	}
	c := *msg
	c.Content = content
	m.messages[msg.DelightfulMessageID] = &c
	return nil
}

func (m *MessageStore) GetByDelightfulMessageID(ctx context.Context, delightfulMessageID string) (*models.Message, error) {
	m.mu.RLock()
	msg, ok := m.messages[delightfulMessageID]
	var c models.Message
	if ok {
		c = *msg
	}
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("message not found").WithMessage(delightfulMessageID)
	}
	content, err := copyContent(c.MessageType, c.Content)
	if err != nil {
		return nil, err
	}
	c.Content = content
	return &c, nil
}

func (m *MessageStore) UpdateContentAndVersion(ctx context.Context, delightfulMessageID string, messageType models.MessageType, content models.Content, versionID string) error {
	cp, err := copyContent(messageType, content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[delightfulMessageID]
	if !ok {
		return apperr.NotFound("message not found").WithMessage(delightfulMessageID)
	}
	msg.MessageType = messageType
	msg.Content = cp
	msg.CurrentVersionID = versionID
	return nil
}

func (m *MessageStore) UpdateContent(ctx context.Context, delightfulMessageID string, content models.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[delightfulMessageID]
	if !ok {
		return apperr.NotFound("message not found").WithMessage(delightfulMessageID)
	}
	cp, err := copyContent(msg.MessageType, content)
	if err != nil {
		return err
	}
	msg.Content = cp
	return nil
}

func (m *MessageStore) CreateVersion(ctx context.Context, version *models.MessageVersion) error {
	cp, err := copyContent(version.MessageType, version.Content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[version.DelightfulMessageID] {
		if v.VersionID == version.VersionID {
			return apperr.InvalidArgument("version %s already exists", version.VersionID).WithMessage(version.DelightfulMessageID)
		}
	}
	c := *version
	c.Content = cp
	m.versions[version.DelightfulMessageID] = append(m.versions[version.DelightfulMessageID], &c)
	return nil
}

func (m *MessageStore) ListVersions(ctx context.Context, delightfulMessageID string) ([]*models.MessageVersion, error) {
	m.mu.RLock()
	src := m.versions[delightfulMessageID]
	out := make([]*models.MessageVersion, 0, len(src))
	for _, v := range src {
		c := *v
		out = append(out, &c)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	for _, v := range out {
		cp, err := copyContent(v.MessageType, v.Content)
		if err != nil {
			return nil, err
		}
		v.Content = cp
	}
	return out, nil
}
