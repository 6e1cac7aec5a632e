package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/config"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/observability"
)

// Authenticator verifies name/password credentials. Nil disables
// credential login, leaving token login only.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) (auth.Account, error)
}

// Bridge owns the two WebSocket endpoints. The agent endpoint accepts
// exactly one authenticated game-server connection at a time, newest
// wins. The player endpoint accepts any number of client connections,
// each starting as a guest until it authenticates.
//
// Bridge is the runtime's module.Messenger: module handlers broadcast
// and address players through it.
type Bridge struct {
	engine     *dispatch.Engine
	tokens     *auth.Service
	roster     *auth.Roster
	accounts   Authenticator
	operators  map[string]bool
	limits     config.RateLimitConfig
	sessionTTL time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	agent   *conn
	players map[string]*conn // conn id → conn
}

// New creates a Bridge. accounts and metrics may be nil; operators may
// be empty. sessionTTL bounds the tokens minted for credential logins.
func New(engine *dispatch.Engine, tokens *auth.Service, roster *auth.Roster, accounts Authenticator, operators map[string]bool, limits config.RateLimitConfig, sessionTTL time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Bridge {
	if operators == nil {
		operators = map[string]bool{}
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Bridge{
		engine:     engine,
		tokens:     tokens,
		roster:     roster,
		accounts:   accounts,
		operators:  operators,
		limits:     limits,
		sessionTTL: sessionTTL,
		logger:     logger,
		metrics:    metrics,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		players:    make(map[string]*conn),
	}
}

// AgentHandler returns the HTTP handler for the game-server agent
// endpoint.
func (b *Bridge) AgentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn("agent upgrade failed", zap.Error(err))
			return
		}
		b.serveAgent(newConn(uuid.NewString(), ws, b.limits))
	})
}

// PlayerHandler returns the HTTP handler for the player endpoint.
func (b *Bridge) PlayerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn("player upgrade failed", zap.Error(err))
			return
		}
		b.servePlayer(newConn(uuid.NewString(), ws, b.limits))
	})
}

// serveAgent requires a service-token auth frame before anything else,
// then installs the connection as the single agent slot.
func (b *Bridge) serveAgent(c *conn) {
	defer c.close()

	var req Request
	if err := c.ws.ReadJSON(&req); err != nil {
		return
	}
	if req.Kind != KindAuth {
		_ = c.writeJSON(fail(req.ID, dispatch.ErrUnauthenticated, "unauthenticated"))
		return
	}
	token, _ := req.Params["token"].(string)
	claims, err := b.tokens.VerifyToken(token, auth.KindService)
	if err != nil {
		b.logger.Warn("agent auth rejected", zap.Error(err))
		_ = c.writeJSON(fail(req.ID, dispatch.ErrUnauthenticated, "unauthenticated"))
		return
	}

	c.setPrincipal(&auth.Principal{
		ID:     claims.Subject,
		Name:   claims.Name,
		Role:   auth.RoleOperator,
		ConnID: c.id,
	})
	_ = c.writeJSON(ok(req.ID, map[string]any{"subject": claims.Subject}))

	b.installAgent(c)
	defer b.dropAgent(c)

	b.logger.Info("agent connected", zap.String("subject", claims.Subject))
	b.readLoop(c, "agent")
	b.logger.Info("agent disconnected", zap.String("subject", claims.Subject))
}

// installAgent makes c the agent connection, superseding and closing
// any prior one.
func (b *Bridge) installAgent(c *conn) {
	b.mu.Lock()
	prev := b.agent
	b.agent = c
	b.mu.Unlock()

	if prev != nil {
		b.logger.Warn("superseding prior agent connection", zap.String("conn", prev.id))
		prev.close()
	}
}

func (b *Bridge) dropAgent(c *conn) {
	b.mu.Lock()
	if b.agent == c {
		b.agent = nil
	}
	b.mu.Unlock()
}

// servePlayer runs a player connection. Frames before authentication
// dispatch as the guest principal.
func (b *Bridge) servePlayer(c *conn) {
	defer c.close()

	b.mu.Lock()
	b.players[c.id] = c
	b.mu.Unlock()
	defer b.removePlayer(c)

	b.readLoop(c, "player")
}

func (b *Bridge) removePlayer(c *conn) {
	b.mu.Lock()
	delete(b.players, c.id)
	b.mu.Unlock()

	p := c.caller()
	if p.Role >= auth.RolePlayer {
		b.roster.Remove(p.ID)
		if b.metrics != nil {
			b.metrics.ConnectedPlayers.Dec()
		}
		b.engine.DispatchEvent(context.Background(), p, "player.disconnected",
			map[string]any{"id": p.ID, "name": p.Name})
	}
}

// readLoop pumps frames until the connection drops. Every protocol
// error is answered on the failing frame; the loop only ends on
// transport errors.
func (b *Bridge) readLoop(c *conn, endpoint string) {
	ctx := context.Background()
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}

		if !c.allow() {
			if b.metrics != nil {
				b.metrics.RateLimited.WithLabelValues(endpoint).Inc()
			}
			_ = c.writeJSON(fail(req.ID, dispatch.ErrRateLimited, "rate_limited"))
			continue
		}

		b.handleFrame(ctx, c, endpoint, req)
	}
}

func (b *Bridge) handleFrame(ctx context.Context, c *conn, endpoint string, req Request) {
	switch req.Kind {
	case KindAuth:
		if endpoint == "agent" {
			// The agent authenticated at accept time.
			_ = c.writeJSON(ok(req.ID, nil))
			return
		}
		b.authenticatePlayer(ctx, c, req)

	case KindCommand:
		result, err := b.engine.DispatchCommand(ctx, c.caller(), req.Path, req.Params)
		if err != nil {
			_ = c.writeJSON(fail(req.ID, err, dispatch.Code(err)))
			return
		}
		_ = c.writeJSON(ok(req.ID, result))

	case KindSocket:
		result, err := b.engine.DispatchSocket(ctx, c.caller(), req.Name, req.Params)
		if err != nil {
			_ = c.writeJSON(fail(req.ID, err, dispatch.Code(err)))
			return
		}
		_ = c.writeJSON(ok(req.ID, result))

	case KindEvent:
		// Fire and forget: no reply, errors stay server-side.
		b.engine.DispatchEvent(ctx, c.caller(), req.Name, req.Params)

	default:
		_ = c.writeJSON(fail(req.ID, fmt.Errorf("unknown frame kind %q", req.Kind), "validation"))
	}
}

// authenticatePlayer upgrades a guest connection using either a session
// token or name/password credentials.
func (b *Bridge) authenticatePlayer(ctx context.Context, c *conn, req Request) {
	principal, err := b.resolvePlayer(ctx, c, req)
	if err != nil {
		b.logger.Warn("player auth rejected", zap.String("conn", c.id), zap.Error(err))
		_ = c.writeJSON(fail(req.ID, errors.New("authentication failed"), "unauthenticated"))
		return
	}

	if b.operators[principal.Name] {
		principal.Role = auth.RoleOperator
	}

	c.setPrincipal(principal)
	b.roster.Add(principal)
	if b.metrics != nil {
		b.metrics.ConnectedPlayers.Inc()
	}

	result := map[string]any{
		"id":   principal.ID,
		"name": principal.Name,
		"role": principal.Role.String(),
	}
	// Credential logins get a session token for subsequent reconnects.
	if token, _ := req.Params["token"].(string); token == "" {
		session, err := b.tokens.IssueToken(principal.ID, principal.Name, auth.KindSession, b.sessionTTL)
		if err != nil {
			b.logger.Error("issuing session token", zap.Error(err))
		} else {
			result["token"] = session
		}
	}
	_ = c.writeJSON(ok(req.ID, result))
	b.logger.Info("player authenticated",
		zap.String("id", principal.ID),
		zap.String("name", principal.Name),
		zap.String("role", principal.Role.String()))

	b.engine.DispatchEvent(ctx, principal, "player.connected",
		map[string]any{"id": principal.ID, "name": principal.Name})
}

func (b *Bridge) resolvePlayer(ctx context.Context, c *conn, req Request) (*auth.Principal, error) {
	if token, okT := req.Params["token"].(string); okT && token != "" {
		claims, err := b.tokens.VerifyToken(token, auth.KindSession)
		if err != nil {
			return nil, err
		}
		return &auth.Principal{
			ID:     claims.Subject,
			Name:   claims.Name,
			Role:   auth.RolePlayer,
			ConnID: c.id,
		}, nil
	}

	name, _ := req.Params["name"].(string)
	password, _ := req.Params["password"].(string)
	if name == "" || password == "" {
		return nil, errors.New("missing token or credentials")
	}
	if b.accounts == nil {
		return nil, errors.New("credential login disabled")
	}
	acct, err := b.accounts.Authenticate(ctx, name, password)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{
		ID:     strconv.FormatInt(acct.ID, 10),
		Name:   acct.Name,
		Role:   acct.Role,
		ConnID: c.id,
	}, nil
}

// SendToPlayer sends data to the named player's connection. Sending to
// a player who is not connected is a logged no-op.
func (b *Bridge) SendToPlayer(id string, data any) {
	c := b.findPlayer(id)
	if c == nil {
		b.logger.Debug("send to absent player dropped", zap.String("player", id))
		return
	}
	if err := c.writeJSON(Push{Kind: "message", Data: data}); err != nil {
		b.logger.Warn("player send failed", zap.String("player", id), zap.Error(err))
	}
}

// BroadcastPlayers sends data to every authenticated player connection.
func (b *Bridge) BroadcastPlayers(data any) {
	push := Push{Kind: "message", Data: data}
	for _, c := range b.snapshotPlayers() {
		if c.caller().Role < auth.RolePlayer {
			continue
		}
		if err := c.writeJSON(push); err != nil {
			b.logger.Warn("broadcast send failed", zap.String("conn", c.id), zap.Error(err))
		}
	}
}

// SendToAgent sends data to the game-server agent connection, if any.
func (b *Bridge) SendToAgent(data any) {
	b.mu.Lock()
	agent := b.agent
	b.mu.Unlock()

	if agent == nil {
		b.logger.Debug("send with no agent connected dropped")
		return
	}
	if err := agent.writeJSON(Push{Kind: "message", Data: data}); err != nil {
		b.logger.Warn("agent send failed", zap.Error(err))
	}
}

// AgentConnected reports whether a game-server agent is attached.
func (b *Bridge) AgentConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agent != nil
}

func (b *Bridge) findPlayer(id string) *conn {
	for _, c := range b.snapshotPlayers() {
		if p := c.caller(); p.ID == id && p.Role >= auth.RolePlayer {
			return c
		}
	}
	return nil
}

func (b *Bridge) snapshotPlayers() []*conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*conn, 0, len(b.players))
	for _, c := range b.players {
		out = append(out, c)
	}
	return out
}

// Close severs every connection. Used during shutdown.
func (b *Bridge) Close() {
	b.mu.Lock()
	agent := b.agent
	b.agent = nil
	conns := make([]*conn, 0, len(b.players))
	for _, c := range b.players {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if agent != nil {
		agent.close()
	}
	for _, c := range conns {
		c.close()
	}
}
