package bank

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

type nopMessenger struct{}

func (nopMessenger) SendToPlayer(id string, data any) {}
func (nopMessenger) BroadcastPlayers(data any)        {}

var (
	alice = &auth.Principal{ID: "a1", Name: "alice", Role: auth.RolePlayer}
	bob   = &auth.Principal{ID: "b1", Name: "bob", Role: auth.RolePlayer}
	op    = &auth.Principal{ID: "op1", Name: "root", Role: auth.RoleOperator}
)

func newFixture(t *testing.T) (*dispatch.Engine, store.Store) {
	t.Helper()
	tokens, err := auth.NewService("session-secret", "service-secret")
	require.NoError(t, err)

	roster := auth.NewRoster()
	roster.Add(alice)
	roster.Add(bob)

	registry := module.NewRegistry()
	require.NoError(t, registry.Register(Descriptor()))

	st := store.NewMemory()
	return dispatch.NewEngine(registry, st, nil, nopMessenger{}, tokens, roster, zap.NewNop(), nil), st
}

func balanceOf(t *testing.T, e *dispatch.Engine, p *auth.Principal) int64 {
	t.Helper()
	out, err := e.DispatchCommand(context.Background(), p, []string{"bank", "balance"}, nil)
	require.NoError(t, err)
	return out.(map[string]any)["balance"].(int64)
}

func grantTo(t *testing.T, e *dispatch.Engine, name string, amount int64) {
	t.Helper()
	_, err := e.DispatchCommand(context.Background(), op, []string{"bank", "grant"},
		map[string]any{"to": name, "amount": float64(amount)})
	require.NoError(t, err)
}

func TestBalanceStartsAtZero(t *testing.T) {
	e, _ := newFixture(t)
	assert.Zero(t, balanceOf(t, e, alice))
}

func TestGrantRequiresOperator(t *testing.T) {
	e, _ := newFixture(t)

	_, err := e.DispatchCommand(context.Background(), alice, []string{"bank", "grant"},
		map[string]any{"to": "alice", "amount": float64(100)})
	assert.ErrorIs(t, err, dispatch.ErrUnauthorized)

	grantTo(t, e, "alice", 100)
	assert.Equal(t, int64(100), balanceOf(t, e, alice))
}

func TestTransferMovesFunds(t *testing.T) {
	e, st := newFixture(t)
	grantTo(t, e, "alice", 100)

	out, err := e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
		map[string]any{"to": "bob", "amount": float64(40)})
	require.NoError(t, err)
	assert.Equal(t, int64(60), out.(map[string]any)["balance"])

	assert.Equal(t, int64(60), balanceOf(t, e, alice))
	assert.Equal(t, int64(40), balanceOf(t, e, bob))

	// The transfer left an audit record.
	entries, err := st.List(context.Background(), store.ModuleKey("bank", "transfers"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTransferInsufficientFunds(t *testing.T) {
	e, _ := newFixture(t)
	grantTo(t, e, "alice", 10)

	_, err := e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
		map[string]any{"to": "bob", "amount": float64(50)})
	require.Error(t, err)

	// Nothing moved.
	assert.Equal(t, int64(10), balanceOf(t, e, alice))
	assert.Zero(t, balanceOf(t, e, bob))
}

func TestTransferValidation(t *testing.T) {
	e, _ := newFixture(t)
	grantTo(t, e, "alice", 100)

	_, err := e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
		map[string]any{"to": "bob", "amount": float64(-5)})
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
		map[string]any{"to": "alice", "amount": float64(5)})
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
		map[string]any{"to": "stranger", "amount": float64(5)})
	assert.ErrorIs(t, err, module.ErrNotFound)
}

// TestConcurrentTransfersConserveTotal drives contending transfers and
// checks the version-checked transactions never lose or mint money.
func TestConcurrentTransfersConserveTotal(t *testing.T) {
	e, _ := newFixture(t)
	grantTo(t, e, "alice", 1000)

	const workers = 4
	const perWorker = 10

	var succeeded int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.DispatchCommand(context.Background(), alice, []string{"bank", "transfer"},
					map[string]any{"to": "bob", "amount": float64(10)})
				if err == nil {
					atomic.AddInt64(&succeeded, 1)
				}
			}
		}()
	}
	wg.Wait()

	moved := atomic.LoadInt64(&succeeded) * 10
	assert.Equal(t, int64(1000)-moved, balanceOf(t, e, alice))
	assert.Equal(t, moved, balanceOf(t, e, bob))
}
