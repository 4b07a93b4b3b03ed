package backend

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attachkit/attachkit/internal/config"
)

func init() {
	Register("db", func(ctx context.Context, cfg *config.Config) (Backend, error) {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return NewDBBlob(ctx, pool, cfg.PathPrefix)
	})
}

// DBBlob stores attachment bytes in a Postgres bytea table, keyed by the
// prefixed storage key. Writes upsert so re-saving an attachment replaces
// the previous bytes at the same key.
type DBBlob struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewDBBlob ensures the blob table exists and returns the backend.
func NewDBBlob(ctx context.Context, pool *pgxpool.Pool, prefix string) (*DBBlob, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS attachment_blobs (
			storage_key TEXT PRIMARY KEY,
			data        BYTEA NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure blob table: %w", err)
	}
	return &DBBlob{pool: pool, prefix: prefix}, nil
}

func (b *DBBlob) object(key string) string {
	return path.Join(b.prefix, key)
}

func (b *DBBlob) Write(ctx context.Context, key string, data []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO attachment_blobs (storage_key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (storage_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, b.object(key), data)
	if err != nil {
		return &OpError{Backend: "db", Op: "write", Key: key, Err: err}
	}
	return nil
}

func (b *DBBlob) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM attachment_blobs WHERE storage_key = $1`, b.object(key),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &OpError{Backend: "db", Op: "read", Key: key, Err: fmt.Errorf("blob not found")}
		}
		return nil, &OpError{Backend: "db", Op: "read", Key: key, Err: err}
	}
	return data, nil
}

// Delete removes the row; deleting an absent key is a no-op.
func (b *DBBlob) Delete(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM attachment_blobs WHERE storage_key = $1`, b.object(key))
	if err != nil {
		return &OpError{Backend: "db", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// PublicLocator for blob storage is the prefixed key itself; serving bytes
// out of the database is the caller's concern.
func (b *DBBlob) PublicLocator(ctx context.Context, key string) (string, error) {
	return b.object(key), nil
}
