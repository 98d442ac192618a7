// Package mongo implements store.MessageStore on MongoDB. Message bodies and
// their versions live here while Seq rows live in PostgreSQL.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/database"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

type messageDocument struct {
	DelightfulMessageID     string    `bson:"delightful_message_id"`
	SenderID                string    `bson:"sender_id"`
	SenderType              string    `bson:"sender_type"`
	SenderOrganizationCode  string    `bson:"sender_organization_code"`
	ReceiveID               string    `bson:"receive_id"`
	ReceiveType             string    `bson:"receive_type"`
	ReceiveOrganizationCode string    `bson:"receive_organization_code"`
	AppMessageID            string    `bson:"app_message_id"`
	MessageType             string    `bson:"message_type"`
	Content                 bson.M    `bson:"content"`
	SendTime                time.Time `bson:"send_time"`
	CurrentVersionID        string    `bson:"current_version_id,omitempty"`
}

type versionDocument struct {
	DelightfulMessageID string    `bson:"delightful_message_id"`
	VersionID           string    `bson:"version_id"`
	MessageType         string    `bson:"message_type"`
	Content             bson.M    `bson:"content"`
	CreatedAt           time.Time `bson:"created_at"`
}

type MessageStore struct {
	messages *mongo.Collection
	versions *mongo.Collection
}

var _ store.MessageStore = (*MessageStore)(nil)

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		messages: db.Collection(database.MessagesCollection),
		versions: db.Collection(database.MessageVersionsCollection),
	}
}

// toBSON stores content as a native document so it stays queryable.
func toBSON(c models.Content) (bson.M, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := models.EncodeContent(c)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("convert content to bson: %w", err)
	}
	return doc, nil
}

func fromBSON(t models.MessageType, doc bson.M) (models.Content, error) {
	if doc == nil {
		return models.DecodeContent(t, nil)
	}
	raw, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert content from bson: %w", err)
	}
	return models.DecodeContent(t, raw)
}

func (s *MessageStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	content, err := toBSON(msg.Content)
	if err != nil {
		return err
	}
	doc := messageDocument{
		DelightfulMessageID:     msg.DelightfulMessageID,
		SenderID:                msg.SenderID,
		SenderType:              string(msg.SenderType),
		SenderOrganizationCode:  msg.SenderOrganizationCode,
		ReceiveID:               msg.ReceiveID,
		ReceiveType:             string(msg.ReceiveType),
		ReceiveOrganizationCode: msg.ReceiveOrganizationCode,
		AppMessageID:            msg.AppMessageID,
		MessageType:             string(msg.MessageType),
		Content:                 content,
		SendTime:                msg.SendTime.UTC(),
		CurrentVersionID:        msg.CurrentVersionID,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.InvalidArgument("message already exists").WithMessage(msg.DelightfulMessageID)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) GetByDelightfulMessageID(ctx context.Context, delightfulMessageID string) (*models.Message, error) {
	var doc messageDocument
	err := s.messages.FindOne(ctx, bson.M{"delightful_message_id": delightfulMessageID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("message not found").WithMessage(delightfulMessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	content, err := fromBSON(models.MessageType(doc.MessageType), doc.Content)
	if err != nil {
		return nil, err
	}
	return &models.Message{
		DelightfulMessageID:     doc.DelightfulMessageID,
		SenderID:                doc.SenderID,
		SenderType:              models.ObjectType(doc.SenderType),
		SenderOrganizationCode:  doc.SenderOrganizationCode,
		ReceiveID:               doc.ReceiveID,
		ReceiveType:             models.ConversationType(doc.ReceiveType),
		ReceiveOrganizationCode: doc.ReceiveOrganizationCode,
		AppMessageID:            doc.AppMessageID,
		MessageType:             models.MessageType(doc.MessageType),
		Content:                 content,
		SendTime:                doc.SendTime,
		CurrentVersionID:        doc.CurrentVersionID,
	}, nil
}

func (s *MessageStore) update(ctx context.Context, delightfulMessageID string, set bson.M) error {
	res, err := s.messages.UpdateOne(ctx, bson.M{"delightful_message_id": delightfulMessageID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("message not found").WithMessage(delightfulMessageID)
	}
	return nil
}

func (s *MessageStore) UpdateContentAndVersion(ctx context.Context, delightfulMessageID string, messageType models.MessageType, content models.Content, versionID string) error {
	doc, err := toBSON(content)
	if err != nil {
		return err
	}
	return s.update(ctx, delightfulMessageID, bson.M{
		"message_type":       string(messageType),
		"content":            doc,
		"current_version_id": versionID,
	})
}

func (s *MessageStore) UpdateContent(ctx context.Context, delightfulMessageID string, content models.Content) error {
	doc, err := toBSON(content)
	if err != nil {
		return err
	}
	return s.update(ctx, delightfulMessageID, bson.M{"content": doc})
}

func (s *MessageStore) CreateVersion(ctx context.Context, version *models.MessageVersion) error {
	content, err := toBSON(version.Content)
	if err != nil {
		return err
	}
	doc := versionDocument{
		DelightfulMessageID: version.DelightfulMessageID,
		VersionID:           version.VersionID,
		MessageType:         string(version.MessageType),
		Content:             content,
		CreatedAt:           version.CreatedAt.UTC(),
	}
	if _, err := s.versions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.InvalidArgument("version %s already exists", version.VersionID).WithMessage(version.DelightfulMessageID)
		}
		return fmt.Errorf("insert message version: %w", err)
	}
	return nil
}

func (s *MessageStore) ListVersions(ctx context.Context, delightfulMessageID string) ([]*models.MessageVersion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.versions.Find(ctx, bson.M{"delightful_message_id": delightfulMessageID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list message versions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.MessageVersion
	for cursor.Next(ctx) {
		var doc versionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		content, err := fromBSON(models.MessageType(doc.MessageType), doc.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, &models.MessageVersion{
			DelightfulMessageID: doc.DelightfulMessageID,
			VersionID:           doc.VersionID,
			MessageType:         models.MessageType(doc.MessageType),
			Content:             content,
			CreatedAt:           doc.CreatedAt,
		})
	}
	return out, cursor.Err()
}
