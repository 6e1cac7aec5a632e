package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema mirrors the migrations for direct application in tests.
const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id            BIGSERIAL    PRIMARY KEY,
		name          VARCHAR(64)  NOT NULL UNIQUE,
		password_hash TEXT         NOT NULL,
		role          VARCHAR(16)  NOT NULL DEFAULT 'player',
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_name ON accounts (name);

	CREATE TABLE IF NOT EXISTS kv (
		key     TEXT   PRIMARY KEY,
		value   BYTEA  NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	);
`

// NewPool returns a migrated pgx pool for integration tests. With
// TEST_DSN set it connects there; with TEST_CONTAINERS set it starts a
// disposable PostgreSQL container; otherwise the test is skipped.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if dsn := os.Getenv("TEST_DSN"); dsn != "" {
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			t.Fatalf("connecting to test DB: %v", err)
		}
		t.Cleanup(func() { pool.Close() })
		if _, err := pool.Exec(context.Background(), schema); err != nil {
			t.Fatalf("applying schema: %v", err)
		}
		return pool
	}

	if os.Getenv("TEST_CONTAINERS") == "" {
		t.Skip("TEST_DSN not set; skipping integration test")
	}
	pc := NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc.RawPool
}
