package rcon

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/config"
)

func testConfig() config.ConsoleConfig {
	return config.ConsoleConfig{
		Host:        "127.0.0.1",
		Port:        28016,
		Password:    "hunter2",
		MaxAttempts: 10,
		RetryDelay:  time.Millisecond,
		DialTimeout: time.Second,
		ReadTimeout: 2 * time.Second,
	}
}

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := packet{id: 7, typ: packetCommandRequest, payload: "weather set rain"}
	require.NoError(t, writePacket(&buf, in))

	// Frame layout: length prefix excludes itself, body ends in two NULs.
	raw := buf.Bytes()
	assert.Equal(t, 4+10+len(in.payload), len(raw))
	assert.Equal(t, byte(0), raw[len(raw)-1])
	assert.Equal(t, byte(0), raw[len(raw)-2])

	out, err := readPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPacketNegativeID(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, packet{id: -1, typ: packetAuthResponse}))

	out, err := readPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), out.id)
}

func TestPacketRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := writePacket(&buf, packet{id: 1, typ: packetCommandRequest, payload: strings.Repeat("x", maxPayload+1)})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadPacketRejectsBadLength(t *testing.T) {
	// Length prefix below the fixed overhead.
	_, err := readPacket(bytes.NewReader([]byte{5, 0, 0, 0, 1, 2, 3, 4, 5}))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadPacketRejectsMissingTerminators(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, packet{id: 1, typ: packetCommandRequest, payload: "ok"}))
	raw := buf.Bytes()
	raw[len(raw)-2] = 'x'

	_, err := readPacket(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

// fakeServer speaks the console protocol over in-memory pipes.
type fakeServer struct {
	password string
	handle   func(cmd string) string

	dropNextCommand atomic.Bool

	mu      sync.Mutex
	seenIDs []int32
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		p, err := readPacket(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.seenIDs = append(s.seenIDs, p.id)
		s.mu.Unlock()

		switch p.typ {
		case packetAuthRequest:
			id := p.id
			if p.payload != s.password {
				id = -1
			}
			if writePacket(conn, packet{id: id, typ: packetAuthResponse}) != nil {
				return
			}
		case packetCommandRequest:
			if s.dropNextCommand.CompareAndSwap(true, false) {
				return
			}
			out := p.payload
			if s.handle != nil {
				out = s.handle(p.payload)
			}
			if writePacket(conn, packet{id: p.id, typ: packetCommandResponse, payload: out}) != nil {
				return
			}
		}
	}
}

func (s *fakeServer) ids() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.seenIDs...)
}

// pipeClient returns a client wired to srv, failing the first failDials
// dial attempts. dials counts every attempt.
func pipeClient(t *testing.T, srv *fakeServer, failDials int, dials *int32) *Client {
	t.Helper()
	c := NewClient(testConfig(), zap.NewNop(), nil)
	c.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		if int(atomic.AddInt32(dials, 1)) <= failDials {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		go srv.serve(server)
		return client, nil
	})
	return c
}

func TestConnectAuthenticates(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestConnectWrongPasswordExhaustsBudget(t *testing.T) {
	srv := &fakeServer{password: "other"}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, c.Connected())
	// Each rejection ends its attempt; the error only surfaces once
	// the full retry budget is spent.
	assert.Equal(t, int32(10), atomic.LoadInt32(&dials))
}

func TestConnectRecoversFromTransientAuthRejection(t *testing.T) {
	// A server that rejects the first two handshakes, then accepts.
	srv := &fakeServer{password: "hunter2"}
	var rejections int32 = 2
	var dials int32
	c := NewClient(testConfig(), zap.NewNop(), nil)
	c.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		s := srv
		if atomic.AddInt32(&rejections, -1) >= 0 {
			s = &fakeServer{password: "other"}
		}
		client, server := net.Pipe()
		go s.serve(server)
		return client, nil
	})
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, int32(3), atomic.LoadInt32(&dials), "two rejections then one success")
}

func TestConnectRecoversWithinBudget(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 4, &dials)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&dials), "four failures then one success")
}

func TestConnectExhaustsRetryBudget(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 1000, &dials)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(10), atomic.LoadInt32(&dials))
}

func TestConnectHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = time.Minute
	c := NewClient(cfg, zap.NewNop(), nil)
	c.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteCommandAutoConnects(t *testing.T) {
	srv := &fakeServer{
		password: "hunter2",
		handle: func(cmd string) string {
			return "echo: " + cmd
		},
	}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)
	defer c.Disconnect()

	out, err := c.ExecuteCommand(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, "echo: status", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestRequestIDsMonotonicFromOne(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)
	defer c.Disconnect()

	_, err := c.ExecuteCommand(context.Background(), "first")
	require.NoError(t, err)
	_, err = c.ExecuteCommand(context.Background(), "second")
	require.NoError(t, err)

	// Auth handshake takes id 1, commands follow.
	assert.Equal(t, []int32{1, 2, 3}, srv.ids())
}

func TestSeveredConnectionRetriesOnce(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)
	defer c.Disconnect()

	_, err := c.ExecuteCommand(context.Background(), "warmup")
	require.NoError(t, err)

	srv.dropNextCommand.Store(true)
	out, err := c.ExecuteCommand(context.Background(), "again")
	require.NoError(t, err, "one silent reconnect must absorb a severed connection")
	assert.Equal(t, "again", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestSeveredConnectionSecondFailureSurfaces(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := NewClient(testConfig(), zap.NewNop(), nil)

	var broken atomic.Bool
	c.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		if broken.Load() {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		go srv.serve(server)
		return client, nil
	})
	defer c.Disconnect()

	_, err := c.ExecuteCommand(context.Background(), "warmup")
	require.NoError(t, err)

	srv.dropNextCommand.Store(true)
	broken.Store(true)
	_, err = c.ExecuteCommand(context.Background(), "again")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.False(t, c.Connected())
}

func TestDisconnectIdempotent(t *testing.T) {
	srv := &fakeServer{password: "hunter2"}
	var dials int32
	c := pipeClient(t, srv, 0, &dials)

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.Connected())

	// A later command transparently reconnects.
	_, err := c.ExecuteCommand(context.Background(), "back")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}
