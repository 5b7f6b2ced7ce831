// Package postgres implements the conversation history store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxkit/voxkit/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [history.Store]. It holds a single
// [pgxpool.Pool] and appends the two records of each completed turn in one
// transaction, so a session's log never contains a user line without its
// assistant counterpart.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure the required table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate ensures the conversation_records table exists. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS conversation_records (
		    id         BIGSERIAL PRIMARY KEY,
		    session_id TEXT        NOT NULL,
		    role       TEXT        NOT NULL,
		    text       TEXT        NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS conversation_records_session_idx
		    ON conversation_records (session_id, id)`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create conversation_records: %w", err)
	}
	return nil
}

// AppendTurn implements [history.Store]. Both records are inserted in a
// single transaction, user first.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn history.Turn) error {
	const q = `
		INSERT INTO conversation_records (session_id, role, text, created_at)
		VALUES ($1, $2, $3, $4)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q, sessionID, history.RoleUser, turn.Transcription, turn.CompletedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, q, sessionID, history.RoleAssistant, turn.Response, turn.CompletedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("history store: append turn: %w", err)
	}
	return nil
}

// Records implements [history.Store]. Records are returned in append order.
func (s *Store) Records(ctx context.Context, sessionID string) ([]history.Record, error) {
	const q = `
		SELECT session_id, role, text, created_at
		FROM   conversation_records
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history store: query records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var r history.Record
		err := row.Scan(&r.SessionID, &r.Role, &r.Text, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan records: %w", err)
	}
	return records, nil
}

// Ping probes the database connection. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
