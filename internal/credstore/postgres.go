package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-session-client/internal/model"
)

// PostgresBackend keeps credentials in the credentials table, partitioned by namespace
// so several operators can share one database from kiosk or console deployments.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	namespace string
}

func NewPostgresBackend(pool *pgxpool.Pool, namespace string) *PostgresBackend {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresBackend{pool: pool, namespace: namespace}
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM credentials WHERE namespace = $1 AND key = $2`,
		b.namespace, key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value string) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO credentials (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		b.namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM credentials WHERE namespace = $1 AND key = $2`, b.namespace, key)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
