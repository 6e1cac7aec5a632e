package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/config"
)

// conn wraps one WebSocket connection. Writes come from the reader
// goroutine and from module broadcasts concurrently, so every write
// goes through the mutex. gorilla permits one concurrent writer only.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
	limiter *rate.Limiter

	mu        sync.Mutex
	principal *auth.Principal
}

func newConn(id string, ws *websocket.Conn, rl config.RateLimitConfig) *conn {
	var limiter *rate.Limiter
	if rl.Tokens > 0 && rl.Interval > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.Tokens)/rl.Interval.Seconds()), rl.Burst)
	}
	return &conn{id: id, ws: ws, limiter: limiter}
}

// allow consumes one rate-limit token, reporting whether the frame may
// proceed. An unconfigured limiter admits everything.
func (c *conn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) setPrincipal(p *auth.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = p
}

// caller returns the connection's principal, or the guest principal
// before authentication.
func (c *conn) caller() *auth.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return auth.Guest(c.id)
	}
	return c.principal
}

func (c *conn) close() {
	_ = c.ws.Close()
}
