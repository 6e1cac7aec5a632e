package weather

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

type fakeConsole struct {
	mu   sync.Mutex
	cmds []string
	err  error
}

func (f *fakeConsole) ExecuteCommand(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return "ok", f.err
}

func (f *fakeConsole) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

type fakeMessenger struct {
	mu         sync.Mutex
	sent       map[string][]any
	broadcasts []any
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(map[string][]any)}
}

func (f *fakeMessenger) SendToPlayer(id string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], data)
}

func (f *fakeMessenger) BroadcastPlayers(data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, data)
}

type fixture struct {
	engine    *dispatch.Engine
	console   *fakeConsole
	messenger *fakeMessenger
	store     store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewService("session-secret", "service-secret")
	require.NoError(t, err)

	registry := module.NewRegistry()
	require.NoError(t, registry.Register(Descriptor()))

	console := &fakeConsole{}
	messenger := newFakeMessenger()
	st := store.NewMemory()
	engine := dispatch.NewEngine(registry, st, console, messenger, tokens, auth.NewRoster(), zap.NewNop(), nil)
	return &fixture{engine: engine, console: console, messenger: messenger, store: st}
}

func operator() *auth.Principal {
	return &auth.Principal{ID: "op1", Name: "root", Role: auth.RoleOperator}
}

func player() *auth.Principal {
	return &auth.Principal{ID: "p1", Name: "alice", Role: auth.RolePlayer}
}

func TestSetWeatherEndToEnd(t *testing.T) {
	f := newFixture(t)

	out, err := f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "rain", "duration": float64(100)})
	require.NoError(t, err)

	state, okCast := out.(State)
	require.True(t, okCast)
	assert.Equal(t, "rain", state.Type)
	assert.Equal(t, int64(100), state.Duration)
	assert.Equal(t, "root", state.SetBy)

	// The change reached the game server console.
	assert.Equal(t, []string{"weather rain 100"}, f.console.commands())

	// And every player heard about it.
	require.Len(t, f.messenger.broadcasts, 1)

	// And it is durable.
	val, err := f.store.Get(context.Background(), stateKey())
	require.NoError(t, err)
	var persisted State
	require.NoError(t, json.Unmarshal(val.Data, &persisted))
	assert.Equal(t, "rain", persisted.Type)
}

func TestSetWeatherDeniedForPlayer(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DispatchCommand(context.Background(), player(),
		[]string{"weather", "set"}, map[string]any{"type": "rain", "duration": float64(100)})
	assert.ErrorIs(t, err, dispatch.ErrUnauthorized)

	// Authorization fails before the handler: no console call, no
	// broadcast, no persisted state.
	assert.Empty(t, f.console.commands())
	assert.Empty(t, f.messenger.broadcasts)
	_, err = f.store.Get(context.Background(), stateKey())
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestSetWeatherRejectsNonPositiveDuration(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "rain", "duration": float64(0)})
	assert.ErrorIs(t, err, dispatch.ErrValidation)
	assert.Empty(t, f.console.commands())
}

func TestSetWeatherSurvivesConsoleFailure(t *testing.T) {
	f := newFixture(t)
	f.console.err = errors.New("console down")

	_, err := f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "clear", "duration": float64(10)})
	assert.NoError(t, err, "a console failure must not lose the state change")

	_, err = f.store.Get(context.Background(), stateKey())
	assert.NoError(t, err)
}

func TestGetWeather(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DispatchCommand(context.Background(), player(), []string{"weather", "get"}, nil)
	assert.ErrorIs(t, err, module.ErrNotFound)

	_, err = f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "storm", "duration": float64(60)})
	require.NoError(t, err)

	out, err := f.engine.DispatchCommand(context.Background(), player(), []string{"weather", "get"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "storm", out.(State).Type)

	// Guests may read too.
	_, err = f.engine.DispatchCommand(context.Background(), auth.Guest("c1"), []string{"weather", "get"}, nil)
	assert.NoError(t, err)
}

func TestWeatherStateSocket(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "fog", "duration": float64(30)})
	require.NoError(t, err)

	out, err := f.engine.DispatchSocket(context.Background(), player(), "weather.state", nil)
	require.NoError(t, err)
	assert.Equal(t, "fog", out.(State).Type)

	_, err = f.engine.DispatchSocket(context.Background(), auth.Guest("c1"), "weather.state", nil)
	assert.ErrorIs(t, err, dispatch.ErrUnauthorized)
}

func TestConnectedPlayerGreetedWithWeather(t *testing.T) {
	f := newFixture(t)

	// No state set: the handler stays quiet.
	f.engine.DispatchEventSync(context.Background(), player(), "player.connected",
		map[string]any{"id": "p1"})
	assert.Empty(t, f.messenger.sent["p1"])

	_, err := f.engine.DispatchCommand(context.Background(), operator(),
		[]string{"weather", "set"}, map[string]any{"type": "rain", "duration": float64(100)})
	require.NoError(t, err)

	f.engine.DispatchEventSync(context.Background(), player(), "player.connected",
		map[string]any{"id": "p1"})
	assert.Len(t, f.messenger.sent["p1"], 1)
}
