package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS script_states (
    item_id    UUID PRIMARY KEY,
    data       BYTEA NOT NULL,
    hash       TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps snapshots in PostgreSQL, letting several engine
// hosts share one state database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Read(ctx context.Context, itemID uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM script_states WHERE item_id = $1`, itemID.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", itemID, err)
	}
	return data, nil
}

func (s *PostgresStore) Write(ctx context.Context, itemID uuid.UUID, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO script_states (item_id, data, hash, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (item_id) DO UPDATE SET
			data = EXCLUDED.data,
			hash = EXCLUDED.hash,
			updated_at = EXCLUDED.updated_at
	`, itemID.String(), data, Hash(data))
	if err != nil {
		return fmt.Errorf("write state %s: %w", itemID, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, itemID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM script_states WHERE item_id = $1`, itemID.String(),
	); err != nil {
		return fmt.Errorf("remove state %s: %w", itemID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
