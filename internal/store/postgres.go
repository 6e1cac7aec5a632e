package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gamekeeper/internal/config"
)

// Pool wraps a pgx connection pool with health-check and lifecycle methods.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool from the given configuration.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error. The pool is ready
// for queries upon successful return.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Health checks that the database is reachable within the given timeout.
//
// Precondition: The pool must not be closed.
// Postcondition: Returns nil if the database responds within the timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close releases all pool resources.
//
// Postcondition: The pool is no longer usable after calling Close.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}

// Postgres is the PostgreSQL-backed Store over a single kv table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Postgres store backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the kv
// table migrated.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

// Get returns the value and version for key, or ErrKeyNotFound.
func (s *Postgres) Get(ctx context.Context, key Key) (Value, error) {
	var v Value
	err := s.db.QueryRow(ctx,
		`SELECT value, version FROM kv WHERE key = $1`,
		key.Encode(),
	).Scan(&v.Data, &v.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Value{}, ErrKeyNotFound
		}
		return Value{}, fmt.Errorf("querying key %q: %w", key, err)
	}
	return v, nil
}

// Set upserts data under key, bumping the version on conflict.
func (s *Postgres) Set(ctx context.Context, key Key, data []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv (key, value, version) VALUES ($1, $2, 1)
		 ON CONFLICT (key) DO UPDATE SET value = $2, version = kv.version + 1`,
		key.Encode(), data,
	)
	if err != nil {
		return fmt.Errorf("setting key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (s *Postgres) Delete(ctx context.Context, key Key) error {
	_, err := s.db.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key.Encode())
	if err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

// List returns all entries at or under prefix in key order. The range
// scan uses the encoded-key ordering, so no LIKE escaping is needed.
func (s *Postgres) List(ctx context.Context, prefix Key) ([]Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(prefix) == 0 {
		rows, err = s.db.Query(ctx,
			`SELECT key, value, version FROM kv ORDER BY key`)
	} else {
		lo, hi := prefixRange(prefix)
		rows, err = s.db.Query(ctx,
			`SELECT key, value, version FROM kv
			 WHERE key = $1 OR (key >= $2 AND key < $3)
			 ORDER BY key`,
			prefix.Encode(), lo, hi)
	}
	if err != nil {
		return nil, fmt.Errorf("listing prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			enc string
			v   Value
		)
		if err := rows.Scan(&enc, &v.Data, &v.Version); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, Entry{Key: decodeKey(enc), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

// Txn verifies every check with row locks, then applies every write,
// inside a single database transaction.
//
// Postcondition: Either all writes are committed or none are; failed
// checks return ErrTxnConflict.
func (s *Postgres) Txn(ctx context.Context, checks []Check, writes []Write) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range checks {
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM kv WHERE key = $1 FOR UPDATE`,
			c.Key.Encode(),
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			version = 0
		} else if err != nil {
			return fmt.Errorf("checking key %q: %w", c.Key, err)
		}
		if version != c.Version {
			return ErrTxnConflict
		}
	}

	for _, w := range writes {
		if w.Delete {
			if _, err := tx.Exec(ctx,
				`DELETE FROM kv WHERE key = $1`, w.Key.Encode()); err != nil {
				return fmt.Errorf("deleting key %q: %w", w.Key, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO kv (key, value, version) VALUES ($1, $2, 1)
			 ON CONFLICT (key) DO UPDATE SET value = $2, version = kv.version + 1`,
			w.Key.Encode(), w.Data); err != nil {
			return fmt.Errorf("writing key %q: %w", w.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
