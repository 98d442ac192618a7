package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/saashqdev/delightful-im/internal/logger"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL and makes sure the sequence schema exists.
func ConnectPostgres(postgresURI string) error {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}

	logger.Log.Info("connected to PostgreSQL")

	if err = InitPostgresTables(ctx, db); err != nil {
		db.Close()
		return err
	}

	PostgresDB = db
	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		// One row per rendering. seq_id is the snowflake row id.
		`CREATE TABLE IF NOT EXISTS delightful_seq (
			seq_id BIGINT PRIMARY KEY,
			organization_code VARCHAR(64) NOT NULL,
			object_type VARCHAR(16) NOT NULL,
			object_id VARCHAR(64) NOT NULL,
			seq_type VARCHAR(32) NOT NULL,
			content JSONB,
			unread_list TEXT[],
			seen_list TEXT[],
			read_list TEXT[],
			app_message_id VARCHAR(128) NOT NULL DEFAULT '',
			delightful_message_id VARCHAR(64) NOT NULL DEFAULT '',
			message_id VARCHAR(64) NOT NULL UNIQUE,
			refer_message_id VARCHAR(64) NOT NULL DEFAULT '',
			sender_message_id VARCHAR(64) NOT NULL DEFAULT '',
			conversation_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			extra JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Conversation windows, one per (owner, peer)
		`CREATE TABLE IF NOT EXISTS delightful_conversation (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			user_type VARCHAR(16) NOT NULL,
			user_organization_code VARCHAR(64) NOT NULL,
			receive_id VARCHAR(64) NOT NULL,
			receive_type VARCHAR(32) NOT NULL,
			receive_organization_code VARCHAR(64) NOT NULL,
			is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, receive_id, receive_type)
		)`,

		`CREATE TABLE IF NOT EXISTS delightful_group_member (
			group_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			user_type VARCHAR(16) NOT NULL DEFAULT 'user',
			organization_code VARCHAR(64) NOT NULL,
			joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	// Create indexes for better performance
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_seq_delightful_message ON delightful_seq(delightful_message_id, object_id, seq_id)`,
		`CREATE INDEX IF NOT EXISTS idx_seq_app_message ON delightful_seq(app_message_id, object_id)`,
		`CREATE INDEX IF NOT EXISTS idx_seq_refer_message ON delightful_seq(refer_message_id, seq_type)`,
		`CREATE INDEX IF NOT EXISTS idx_seq_object ON delightful_seq(object_id, seq_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_user ON delightful_conversation(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_member_group ON delightful_group_member(group_id, joined_at)`,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return err
		}
	}

	logger.Log.Info("PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL pool
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
