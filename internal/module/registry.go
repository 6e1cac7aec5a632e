package module

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrNotFound is returned when a command path, event name, or socket
// topic resolves to nothing.
var ErrNotFound = errors.New("no handler registered")

// routes is one immutable generation of the routing tables. Registry
// publishes a fresh generation on every registration so readers never
// observe partial state.
type routes struct {
	commands map[string]*Command
	events   map[string][]*Event
	sockets  map[string]*Socket
}

// Registry ingests module descriptors and resolves inbound operations
// against them. Registration rebuilds the routing tables and publishes
// them atomically; resolution is lock-free.
type Registry struct {
	mu      sync.Mutex
	ordered []*Descriptor // registration order, one entry per module name
	tbl     atomic.Pointer[routes]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.tbl.Store(buildRoutes(nil))
	return r
}

// PathKey returns the canonical lookup key for a command path.
func PathKey(path []string) string {
	return strings.Join(path, "/")
}

// Register ingests a descriptor. Re-registering a module name replaces
// all of its prior entries atomically; the new registration counts as
// most recent for duplicate-path resolution.
//
// Precondition: desc must be non-nil with a non-empty Name, and every
// entry must carry a handler.
// Postcondition: The new routing tables are fully visible to all
// subsequent resolutions, with no partial state observable.
func (r *Registry) Register(desc *Descriptor) error {
	if desc == nil || desc.Name == "" {
		return errors.New("descriptor must have a name")
	}
	if err := validateDescriptor(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]*Descriptor, 0, len(r.ordered)+1)
	for _, d := range r.ordered {
		if d.Name != desc.Name {
			next = append(next, d)
		}
	}
	next = append(next, desc)

	r.ordered = next
	r.tbl.Store(buildRoutes(next))
	return nil
}

// Unregister removes a module's entries. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]*Descriptor, 0, len(r.ordered))
	for _, d := range r.ordered {
		if d.Name != name {
			next = append(next, d)
		}
	}
	r.ordered = next
	r.tbl.Store(buildRoutes(next))
}

// ResolveCommand returns the command registered for the exact path.
// There is no prefix matching.
//
// Postcondition: Returns the Command or ErrNotFound.
func (r *Registry) ResolveCommand(path []string) (*Command, error) {
	cmd, ok := r.tbl.Load().commands[PathKey(path)]
	if !ok {
		return nil, fmt.Errorf("command %q: %w", PathKey(path), ErrNotFound)
	}
	return cmd, nil
}

// ResolveEvent returns all handlers bound to the event name. The list
// may be empty; that is not an error.
func (r *Registry) ResolveEvent(name string) []*Event {
	return r.tbl.Load().events[name]
}

// ResolveSocket returns the single handler bound to the topic.
//
// Postcondition: Returns the Socket or ErrNotFound.
func (r *Registry) ResolveSocket(topic string) (*Socket, error) {
	s, ok := r.tbl.Load().sockets[topic]
	if !ok {
		return nil, fmt.Errorf("socket %q: %w", topic, ErrNotFound)
	}
	return s, nil
}

// Modules returns the registered descriptors in registration order.
func (r *Registry) Modules() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Descriptor(nil), r.ordered...)
}

// Commands returns every routed command in no particular order.
func (r *Registry) Commands() []*Command {
	tbl := r.tbl.Load()
	out := make([]*Command, 0, len(tbl.commands))
	for _, c := range tbl.commands {
		out = append(out, c)
	}
	return out
}

func validateDescriptor(desc *Descriptor) error {
	for i := range desc.Commands {
		c := &desc.Commands[i]
		if len(c.Path) == 0 {
			return fmt.Errorf("module %q: command with empty path", desc.Name)
		}
		if c.Handler == nil {
			return fmt.Errorf("module %q: command %q has no handler", desc.Name, PathKey(c.Path))
		}
	}
	for i := range desc.Events {
		e := &desc.Events[i]
		if e.Name == "" {
			return fmt.Errorf("module %q: event with empty name", desc.Name)
		}
		if e.Handler == nil {
			return fmt.Errorf("module %q: event %q has no handler", desc.Name, e.Name)
		}
	}
	for i := range desc.Sockets {
		s := &desc.Sockets[i]
		if s.Topic == "" {
			return fmt.Errorf("module %q: socket with empty topic", desc.Name)
		}
		if s.Handler == nil {
			return fmt.Errorf("module %q: socket %q has no handler", desc.Name, s.Topic)
		}
	}
	return nil
}

// buildRoutes folds descriptors into routing maps. Later descriptors
// overwrite earlier ones on duplicate command paths and socket topics;
// event handlers accumulate.
func buildRoutes(descs []*Descriptor) *routes {
	tbl := &routes{
		commands: make(map[string]*Command),
		events:   make(map[string][]*Event),
		sockets:  make(map[string]*Socket),
	}
	for _, d := range descs {
		for i := range d.Commands {
			c := &d.Commands[i]
			tbl.commands[PathKey(c.Path)] = c
		}
		for i := range d.Events {
			e := &d.Events[i]
			tbl.events[e.Name] = append(tbl.events[e.Name], e)
		}
		for i := range d.Sockets {
			s := &d.Sockets[i]
			tbl.sockets[s.Topic] = s
		}
	}
	return tbl
}
