// Package postgres implements store.Store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	ids idgen.Generator
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.GroupDirectory = (*Store)(nil)
)

func NewStore(db *sql.DB, ids idgen.Generator) *Store {
	return &Store{db: db, ids: ids}
}

func (s *Store) Sequences() store.SequenceStore {
	return &seqRepo{q: s.db}
}

func (s *Store) Conversations() store.ConversationStore {
	return &convRepo{q: s.db, ids: s.ids}
}

type txView struct {
	tx  *sql.Tx
	ids idgen.Generator
}

func (t txView) Sequences() store.SequenceStore { return &seqRepo{q: t.tx} }
func (t txView) Conversations() store.ConversationStore {
	return &convRepo{q: t.tx, ids: t.ids}
}

// Transaction runs fn in one READ COMMITTED transaction. Every statement
// sees its own snapshot, so a caller that needs one view of group membership
// reads it once and reuses the result.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(txView{tx: tx, ids: s.ids}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
