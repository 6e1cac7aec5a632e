package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/observability"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

// Engine runs the dispatch pipeline: resolve the handler, authorize the
// caller, validate arguments, then invoke with a call-scoped capability
// context. One Engine serves all connections concurrently.
type Engine struct {
	registry  *module.Registry
	store     store.Store
	console   module.Console
	messenger module.Messenger
	tokens    *auth.Service
	roster    *auth.Roster
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewEngine creates a dispatch engine over the registry and its
// capability providers. metrics may be nil.
func NewEngine(registry *module.Registry, st store.Store, console module.Console, messenger module.Messenger, tokens *auth.Service, roster *auth.Roster, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		registry:  registry,
		store:     st,
		console:   console,
		messenger: messenger,
		tokens:    tokens,
		roster:    roster,
		logger:    logger,
		metrics:   metrics,
	}
}

// DispatchCommand resolves and invokes the command registered for the
// exact path. The caller is authorized against the command's permission
// and raw arguments are validated against its schema before the handler
// runs. A handler failure or panic is logged with full detail and
// surfaced to the caller as ErrInternal.
//
// Precondition: caller must be non-nil; guests use auth.Guest.
// Postcondition: On error, the handler either never ran (not found,
// unauthorized, invalid arguments) or its failure is wrapped as
// ErrInternal. The error belongs to this call alone.
func (e *Engine) DispatchCommand(ctx context.Context, caller *auth.Principal, path []string, params map[string]any) (result any, err error) {
	defer func() { e.count("command", err) }()

	cmd, err := e.registry.ResolveCommand(path)
	if err != nil {
		return nil, err
	}

	if !auth.CheckPermission(cmd.Permission, caller.Role) {
		return nil, fmt.Errorf("command %q requires %s: %w", module.PathKey(path), cmd.Permission, ErrUnauthorized)
	}

	args, err := module.CoerceArgs(cmd.Args, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	call := e.newCall(caller)
	call.Args = args
	call.Logger = call.Logger.With(zap.String("command", module.PathKey(path)))

	return e.invoke(ctx, call, "command", module.PathKey(path), func(ctx context.Context, call *module.Call) (any, error) {
		return cmd.Handler(ctx, call)
	})
}

// DispatchSocket resolves and invokes the single handler bound to the
// topic, authorizing the caller first. The payload is passed through
// unvalidated; socket handlers own their payload shape.
func (e *Engine) DispatchSocket(ctx context.Context, caller *auth.Principal, topic string, payload map[string]any) (result any, err error) {
	defer func() { e.count("socket", err) }()

	sock, err := e.registry.ResolveSocket(topic)
	if err != nil {
		return nil, err
	}

	if !auth.CheckPermission(sock.Permission, caller.Role) {
		return nil, fmt.Errorf("socket %q requires %s: %w", topic, sock.Permission, ErrUnauthorized)
	}

	call := e.newCall(caller)
	call.Payload = payload
	call.Logger = call.Logger.With(zap.String("socket", topic))

	return e.invoke(ctx, call, "socket", topic, func(ctx context.Context, call *module.Call) (any, error) {
		return sock.Handler(ctx, call)
	})
}

// DispatchEvent fans the event out to every bound handler, each on its
// own goroutine so a slow or failing handler never stalls the rest.
// Handler errors and panics are logged and dropped; events carry no
// reply channel. Zero handlers is not an error.
//
// Postcondition: Returns the number of handlers started without
// waiting for them to finish.
func (e *Engine) DispatchEvent(ctx context.Context, caller *auth.Principal, name string, payload map[string]any) int {
	handlers := e.registry.ResolveEvent(name)
	for _, h := range handlers {
		go e.runEventHandler(ctx, caller, name, payload, h)
	}
	return len(handlers)
}

// DispatchEventSync delivers the event like DispatchEvent but blocks
// until every handler returns. Intended for shutdown paths and tests.
func (e *Engine) DispatchEventSync(ctx context.Context, caller *auth.Principal, name string, payload map[string]any) int {
	handlers := e.registry.ResolveEvent(name)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h *module.Event) {
			defer wg.Done()
			e.runEventHandler(ctx, caller, name, payload, h)
		}(h)
	}
	wg.Wait()
	return len(handlers)
}

func (e *Engine) runEventHandler(ctx context.Context, caller *auth.Principal, name string, payload map[string]any, h *module.Event) {
	call := e.newCall(caller)
	call.Payload = payload
	call.Logger = call.Logger.With(zap.String("event", name))

	_, err := e.invoke(ctx, call, "event", name, func(ctx context.Context, call *module.Call) (any, error) {
		return nil, h.Handler(ctx, call)
	})
	e.count("event", err)
}

// invoke runs the handler with panic isolation. A panicking handler
// poisons only its own call.
func (e *Engine) invoke(ctx context.Context, call *module.Call, kind, name string, fn module.CommandHandler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic",
				zap.String("kind", kind),
				zap.String("name", name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result, err = nil, fmt.Errorf("%s %q: %w", kind, name, ErrInternal)
		}
	}()

	result, err = fn(ctx, call)
	if err != nil {
		e.logger.Warn("handler error",
			zap.String("kind", kind),
			zap.String("name", name),
			zap.Error(err))
		// Handlers may return taxonomy errors to shape the caller-facing
		// failure; anything else stays opaque.
		if isDispatchError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %q: %w", kind, name, ErrInternal)
	}
	return result, nil
}

func isDispatchError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, module.ErrNotFound)
}

func (e *Engine) newCall(caller *auth.Principal) *module.Call {
	if caller == nil {
		caller = auth.Guest("")
	}
	return &module.Call{
		Principal: caller,
		Store:     e.store,
		Console:   e.console,
		Messenger: e.messenger,
		Tokens:    e.tokens,
		Roster:    e.roster,
		Logger:    e.logger.With(zap.String("caller", caller.Name), zap.String("role", caller.Role.String())),
	}
}

func (e *Engine) count(kind string, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	e.metrics.DispatchTotal.WithLabelValues(kind, outcome).Inc()
}
