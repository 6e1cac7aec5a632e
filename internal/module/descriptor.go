// Package module defines the feature-module contract: descriptors
// declaring commands, events, and socket topics, the argument schemas
// validated before dispatch, and the routing registry that resolves
// inbound frames to handlers.
package module

import (
	"context"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
)

// CommandHandler handles a path-addressed request/response operation.
type CommandHandler func(ctx context.Context, call *Call) (any, error)

// EventHandler handles a fire-and-forget notification.
type EventHandler func(ctx context.Context, call *Call) error

// SocketHandler handles a topic-addressed request/response operation.
type SocketHandler func(ctx context.Context, call *Call) (any, error)

// Command is a path-addressed operation with its permission and
// argument schema.
type Command struct {
	// Path is the ordered command path, e.g. ["weather", "set"].
	Path []string
	// Permission is the minimum role required to invoke the command.
	Permission auth.Role
	// Args is the ordered argument schema validated before invocation.
	Args []ArgSpec
	// Handler is the bound handler function.
	Handler CommandHandler
	// Help is a one-line usage description.
	Help string
}

// Event binds a handler to a named notification. Many handlers across
// modules may share an event name.
type Event struct {
	Name    string
	Handler EventHandler
}

// Socket is a topic-addressed RPC with exactly one handler per topic.
type Socket struct {
	Topic      string
	Permission auth.Role
	Handler    SocketHandler
}

// Descriptor is a module's declared metadata, consumed once at load.
type Descriptor struct {
	Name     string
	Version  string
	Commands []Command
	Events   []Event
	Sockets  []Socket
}

// NewDescriptor starts a descriptor builder for the named module.
//
// Precondition: name must be non-empty.
func NewDescriptor(name, version string) *Descriptor {
	return &Descriptor{Name: name, Version: version}
}

// Command appends a command entry and returns the descriptor for chaining.
func (d *Descriptor) Command(path []string, permission auth.Role, args []ArgSpec, handler CommandHandler, help string) *Descriptor {
	d.Commands = append(d.Commands, Command{
		Path:       path,
		Permission: permission,
		Args:       args,
		Handler:    handler,
		Help:       help,
	})
	return d
}

// Event appends an event binding and returns the descriptor for chaining.
func (d *Descriptor) Event(name string, handler EventHandler) *Descriptor {
	d.Events = append(d.Events, Event{Name: name, Handler: handler})
	return d
}

// Socket appends a socket entry and returns the descriptor for chaining.
func (d *Descriptor) Socket(topic string, permission auth.Role, handler SocketHandler) *Descriptor {
	d.Sockets = append(d.Sockets, Socket{Topic: topic, Permission: permission, Handler: handler})
	return d
}
