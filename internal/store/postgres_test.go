package store_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/gamekeeper/internal/store"
	"github.com/cory-johannsen/gamekeeper/internal/testutil"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool := testutil.NewPool(t)
	_, err := pool.Exec(context.Background(), `TRUNCATE kv`)
	require.NoError(t, err)
	return pool
}

func TestPostgresGetSetDelete(t *testing.T) {
	s := store.NewPostgres(testPool(t))
	ctx := context.Background()
	key := store.ModuleKey("weather", "state")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, key, []byte("v1")))
	val, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val.Data)
	assert.Equal(t, int64(1), val.Version)

	require.NoError(t, s.Set(ctx, key, []byte("v2")))
	val, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val.Data)
	assert.Equal(t, int64(2), val.Version, "versions bump on every write")

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, s.Delete(ctx, key))
}

func TestPostgresListPrefix(t *testing.T) {
	s := store.NewPostgres(testPool(t))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.ModuleKey("bank", "accounts", "a"), []byte("1")))
	require.NoError(t, s.Set(ctx, store.ModuleKey("bank", "accounts", "b"), []byte("2")))
	require.NoError(t, s.Set(ctx, store.ModuleKey("bank", "transfers", "t1"), []byte("3")))
	// A sibling whose encoded form shares the raw prefix bytes.
	require.NoError(t, s.Set(ctx, store.Key{"mod", "bankx"}, []byte("4")))

	entries, err := s.List(ctx, store.ModuleKey("bank", "accounts"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.ModuleKey("bank", "accounts", "a"), entries[0].Key)
	assert.Equal(t, store.ModuleKey("bank", "accounts", "b"), entries[1].Key)

	entries, err = s.List(ctx, store.ModuleKey("bank"))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "sibling module must not leak into the range")
}

func TestPostgresTxnConflictAndAtomicity(t *testing.T) {
	s := store.NewPostgres(testPool(t))
	ctx := context.Background()
	a := store.ModuleKey("bank", "accounts", "a")
	b := store.ModuleKey("bank", "accounts", "b")

	require.NoError(t, s.Set(ctx, a, []byte("100")))

	// Stale version on a, absence check on b: the conflict on a must
	// keep the write to b from happening.
	err := s.Txn(ctx,
		[]store.Check{{Key: a, Version: 99}, {Key: b, Version: 0}},
		[]store.Write{{Key: b, Data: []byte("50")}})
	assert.ErrorIs(t, err, store.ErrTxnConflict)
	_, err = s.Get(ctx, b)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	// Correct versions commit both writes.
	err = s.Txn(ctx,
		[]store.Check{{Key: a, Version: 1}, {Key: b, Version: 0}},
		[]store.Write{
			{Key: a, Data: []byte("60")},
			{Key: b, Data: []byte("40")},
		})
	require.NoError(t, err)

	val, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("60"), val.Data)
	val, err = s.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []byte("40"), val.Data)

	// Delete writes participate in transactions too.
	err = s.Txn(ctx,
		[]store.Check{{Key: b, Version: val.Version}},
		[]store.Write{{Key: b, Delete: true}})
	require.NoError(t, err)
	_, err = s.Get(ctx, b)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}
