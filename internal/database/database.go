package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saashqdev/delightful-im/internal/logger"
)

var Client *mongo.Client
var DB *mongo.Database

const (
	MessagesCollection        = "messages"
	MessageVersionsCollection = "message_versions"
)

// Connect opens the Mongo connection holding message bodies and versions.
func Connect(mongoURI, dbName string) error {
	// Use longer timeout for Atlas connections
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	logger.Log.Info("attempting to connect to MongoDB")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()

	if err = client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return err
	}

	if dbName == "" {
		dbName = "delightful"
	}
	db := client.Database(dbName)
	if err := EnsureMongoIndexes(ctx, db); err != nil {
		client.Disconnect(context.Background())
		return err
	}

	Client = client
	DB = db
	logger.Log.Info("connected to MongoDB", "database", dbName)
	return nil
}

// EnsureMongoIndexes creates the unique keys the message store relies on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(MessagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "delightful_message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "app_message_id", Value: 1}, {Key: "sender_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(MessageVersionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "delightful_message_id", Value: 1}, {Key: "version_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "delightful_message_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	return err
}

func Disconnect() error {
	if Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Client.Disconnect(ctx)
}
