package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresShareLinkStore persists share links to a Postgres table, allowing
// multiple API replicas to resolve the same tokens. The file_id primary key
// makes reassignment a single upsert, so the one-active-token invariant
// holds without explicit locking.
type PostgresShareLinkStore struct {
	pool *pgxpool.Pool
}

// NewPostgresShareLinkStore opens a Postgres-backed store using the provided
// DSN and ensures the backing table exists.
func NewPostgresShareLinkStore(dsn string) (*PostgresShareLinkStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres share-link dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres share-link config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres share-link pool: %w", err)
	}
	store := &PostgresShareLinkStore{pool: pool}
	if err := store.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresShareLinkStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS share_links (
    file_id TEXT PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL
)
`)
	if err != nil {
		return fmt.Errorf("migrate share_links: %w", err)
	}
	return nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresShareLinkStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Assign stores or replaces the token for the file.
func (s *PostgresShareLinkStore) Assign(fileID, token string, createdAt time.Time) error {
	_, err := s.pool.Exec(context.Background(), `
INSERT INTO share_links (file_id, token, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (file_id) DO UPDATE SET token = EXCLUDED.token, created_at = EXCLUDED.created_at
`, fileID, token, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("assign share link: %w", err)
	}
	return nil
}

// Resolve fetches the record for the provided token.
func (s *PostgresShareLinkStore) Resolve(token string) (ShareLinkRecord, bool, error) {
	row := s.pool.QueryRow(context.Background(), `
SELECT file_id, created_at
FROM share_links
WHERE token = $1
`, token)
	record := ShareLinkRecord{Token: token}
	if err := row.Scan(&record.FileID, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShareLinkRecord{}, false, nil
		}
		return ShareLinkRecord{}, false, err
	}
	return record, true, nil
}

// TokenFor fetches the active token for the provided file.
func (s *PostgresShareLinkStore) TokenFor(fileID string) (string, bool, error) {
	row := s.pool.QueryRow(context.Background(), `
SELECT token
FROM share_links
WHERE file_id = $1
`, fileID)
	var token string
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return token, true, nil
}

// Remove deletes the active token for the provided file.
func (s *PostgresShareLinkStore) Remove(fileID string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM share_links WHERE file_id = $1`, fileID)
	return err
}
