package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL. Positions live in a single
// key-value table with a JSONB payload; the private record shape can evolve
// without migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the positions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS positions (
		   key        TEXT PRIMARY KEY,
		   record     JSONB NOT NULL,
		   updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM positions ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode position record: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Position, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM positions WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", key, err)
	}
	return &p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p *Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (key, record, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET record = $2, updated_at = now()`,
		p.Key(), data)
	if err != nil {
		return fmt.Errorf("put position %s: %w", p.Key(), err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete position %s: %w", key, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
