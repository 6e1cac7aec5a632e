package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/config"
	"github.com/cory-johannsen/gamekeeper/internal/observability"
)

// Typed connection failures.
var (
	// ErrAuthFailed is returned when the server rejects the password.
	// Each rejection ends its attempt; the error surfaces once the
	// retry budget is exhausted.
	ErrAuthFailed = errors.New("console authentication rejected")
	// ErrRetriesExhausted is returned when the connection retry budget
	// runs out without an authenticated session.
	ErrRetriesExhausted = errors.New("console connection retries exhausted")
	// ErrProtocol is returned when the server answers outside the
	// protocol (mismatched request id, unexpected packet type).
	ErrProtocol = errors.New("console protocol violation")
)

// Dialer opens the transport connection. Swapped in tests.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Client is an authenticated remote-console session. One command is in
// flight at a time; concurrent callers serialize on the client.
//
// A client that has authenticated once will, on a severed connection,
// silently reconnect and retry the failed command exactly once before
// surfacing the error.
type Client struct {
	cfg     config.ConsoleConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	dial    Dialer

	mu            sync.Mutex
	conn          net.Conn
	nextID        int32
	authenticated bool // a handshake has ever succeeded
}

// NewClient creates a console client for the configured endpoint. It
// does not connect; the first command (or an explicit Connect) does.
// metrics may be nil.
func NewClient(cfg config.ConsoleConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  logger.With(zap.String("console", cfg.Addr())),
		metrics: metrics,
	}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.DialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return c
}

// SetDialer replaces the transport dialer.
//
// Precondition: Must be called before the first connection attempt.
func (c *Client) SetDialer(d Dialer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dial = d
}

// Connect establishes and authenticates the session, retrying failed
// attempts up to the configured budget with a fixed delay between
// attempts. A rejected password ends its attempt like any other
// failure; the next attempt re-dials and re-authenticates.
//
// Postcondition: On nil error the session is authenticated. Returns
// ErrAuthFailed when the budget ran out on a rejected password,
// ErrRetriesExhausted when it ran out on connection failures, or
// ctx.Err when the context ends first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.ConsoleReconnects.Inc()
			}
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.attemptLocked(ctx)
		if err == nil {
			c.authenticated = true
			c.logger.Info("console session established", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		c.logger.Warn("console connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("budget", attempts),
			zap.Error(err))
	}
	if errors.Is(lastErr, ErrAuthFailed) {
		c.logger.Error("console password rejected", zap.Int("attempts", attempts))
		return fmt.Errorf("%w after %d attempts", ErrAuthFailed, attempts)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}

// attemptLocked runs one dial-and-handshake attempt. Any failure tears
// the partial connection down.
func (c *Client) attemptLocked(ctx context.Context) error {
	conn, err := c.dial(ctx, c.cfg.Addr())
	if err != nil {
		return err
	}

	c.conn = conn
	c.nextID = 0

	resp, err := c.roundTripLocked(packetAuthRequest, c.cfg.Password)
	if err != nil {
		c.teardownLocked()
		return err
	}
	if resp.id == -1 {
		c.teardownLocked()
		return ErrAuthFailed
	}
	return nil
}

// ExecuteCommand runs one command on the remote console and returns its
// response body. Calls are serialized; each command's response is
// matched by request id. After a prior successful handshake a severed
// connection triggers one silent reconnect and retry.
//
// Postcondition: Returns the response payload, or an error after which
// the session is torn down for the next call to re-establish.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.executeLocked(ctx, cmd)
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.ConsoleCommands.WithLabelValues(outcome).Inc()
	}
	return out, err
}

func (c *Client) executeLocked(ctx context.Context, cmd string) (string, error) {
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return "", err
		}
	}

	resp, err := c.roundTripLocked(packetCommandRequest, cmd)
	if err == nil {
		return resp.payload, nil
	}

	c.teardownLocked()
	if !c.authenticated {
		return "", err
	}

	// The session worked before; assume a transient drop and retry the
	// command once on a fresh connection.
	c.logger.Warn("console connection lost, reconnecting", zap.Error(err))
	if c.metrics != nil {
		c.metrics.ConsoleReconnects.Inc()
	}
	if rerr := c.connectLocked(ctx); rerr != nil {
		return "", rerr
	}
	resp, err = c.roundTripLocked(packetCommandRequest, cmd)
	if err != nil {
		c.teardownLocked()
		return "", err
	}
	return resp.payload, nil
}

// roundTripLocked sends one request and reads its response, verifying
// the echoed request id. The auth-failure sentinel id -1 is passed
// through for the caller to interpret.
func (c *Client) roundTripLocked(typ int32, payload string) (packet, error) {
	c.nextID++
	req := packet{id: c.nextID, typ: typ, payload: payload}

	if err := writePacket(c.conn, req); err != nil {
		return packet{}, err
	}

	if c.cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return packet{}, err
		}
	}
	resp, err := readPacket(c.conn)
	if err != nil {
		return packet{}, err
	}
	if resp.id != req.id && resp.id != -1 {
		return packet{}, fmt.Errorf("response id %d for request %d: %w", resp.id, req.id, ErrProtocol)
	}
	return resp, nil
}

// Disconnect closes the session. Safe to call repeatedly; a later
// command reconnects on demand.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
