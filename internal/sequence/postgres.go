package sequence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the counter with a single-row upsert per partition.
// The increment and its persistence are one statement, so a returned value
// is always on disk.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const incrQuery = `
INSERT INTO smpp_sequences (partition_key, last_value)
VALUES ($1, 1)
ON CONFLICT (partition_key)
DO UPDATE SET last_value = smpp_sequences.last_value + 1, updated_at = now()
RETURNING last_value`

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Incr implements Store.
func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var v int64
	if err := s.pool.QueryRow(ctx, incrQuery, key).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
