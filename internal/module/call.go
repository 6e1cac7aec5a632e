package module

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

// Console is the command-execution surface handlers use to run raw
// commands on the game server's remote console.
type Console interface {
	ExecuteCommand(ctx context.Context, cmd string) (string, error)
}

// Messenger delivers outbound messages to player connections.
// Delivery is best-effort; there is no queuing or replay.
type Messenger interface {
	// SendToPlayer sends data to one player connection. Sending to an
	// absent player is a logged no-op.
	SendToPlayer(id string, data any)
	// BroadcastPlayers sends data to every authenticated player connection.
	BroadcastPlayers(data any)
}

// Call is the capability surface passed to every handler invocation.
// It is constructed per call and is the sole integration surface
// modules depend on.
type Call struct {
	// Principal is the resolved caller.
	Principal *auth.Principal
	// Args holds the coerced command arguments (commands only).
	Args map[string]any
	// Payload holds the raw event or socket payload.
	Payload map[string]any
	// Store is the persistent ordered-key store.
	Store store.Store
	// Console executes raw commands on the game server.
	Console Console
	// Messenger sends per-player and broadcast messages.
	Messenger Messenger
	// Tokens issues and verifies bearer tokens.
	Tokens *auth.Service
	// Roster resolves live player identity (name↔id).
	Roster *auth.Roster
	// Logger is a call-scoped structured logger.
	Logger *zap.Logger
}

// String returns a string argument by name, with ok reporting presence.
func (c *Call) String(name string) (string, bool) {
	v, ok := c.Args[name].(string)
	return v, ok
}

// Int returns an integer argument by name, with ok reporting presence.
func (c *Call) Int(name string) (int64, bool) {
	v, ok := c.Args[name].(int64)
	return v, ok
}

// Float returns a float argument by name, with ok reporting presence.
func (c *Call) Float(name string) (float64, bool) {
	v, ok := c.Args[name].(float64)
	return v, ok
}

// Bool returns a boolean argument by name, with ok reporting presence.
func (c *Call) Bool(name string) (bool, bool) {
	v, ok := c.Args[name].(bool)
	return v, ok
}
