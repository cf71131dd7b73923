package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-i2p/go-darkstar/lib/bloom"
	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type testServer struct {
	listener *Listener
	static   *darkstar.KeyPair
	handler  *DefaultHandler
	clock    *clockwork.FakeClock
}

// startServer runs an echo server on loopback whose black holes run on a
// fake clock.
func startServer(t *testing.T, configure func(*ListenerConfig)) *testServer {
	t.Helper()
	static, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)
	filter, err := bloom.New(4096, 3)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	handler := NewDefaultHandler(filter, WithBlackHoleClock(clock))
	config := ListenerConfig{
		StaticKey: static,
		Handler:   handler,
	}
	if configure != nil {
		configure(&config)
	}

	l, err := Listen("127.0.0.1:0", config)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
		_ = handler.Close()
	})

	go func() {
		for {
			conn, err := l.AcceptDarkStar()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return &testServer{listener: l, static: static, handler: handler, clock: clock}
}

func (s *testServer) address() string {
	return s.listener.Addr().String()
}

func (s *testServer) dial(t *testing.T) *Conn {
	t.Helper()
	d := &Dialer{ServerPublicKey: s.static.Compact(), Timeout: waitFor}
	conn, err := d.DialContext(context.Background(), s.address())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testServer) dialRaw(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp4", s.address())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// hello builds a first client message, with a correct confirmation code
// unless corrupt is set.
func (s *testServer) hello(t *testing.T, corrupt bool) []byte {
	t.Helper()
	ephemeral, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)
	secret, err := ephemeral.ECDH(s.static.PublicKey())
	require.NoError(t, err)
	code := darkstar.GenerateConfirmationCode(darkstar.RoleClient, secret, s.listener.Identifier(), s.static.Compact(), ephemeral.Compact())
	if corrupt {
		code[0] ^= 0x01
	}
	return append(ephemeral.Compact(), code...)
}

// awaitBlackHoles waits until n black holes are open and have armed their
// timers on the fake clock.
func (s *testServer) awaitBlackHoles(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.handler.ActiveBlackHoles() == n }, waitFor, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.clock.BlockUntilContext(ctx, 2*n))
}

// expectSilence asserts nothing arrives on conn for a short while.
func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var one [1]byte
	_, err := conn.Read(one[:])
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout(), "expected a read timeout, got %v", err)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
}

// sessionPair establishes one session on a fresh listener and returns both
// ends. Black holes run on a fake clock.
func sessionPair(t *testing.T, blackHoleFirstFrame bool) (*Conn, *Conn, *Listener, *DefaultHandler) {
	t.Helper()
	static, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)
	handler := NewDefaultHandler(nil, WithBlackHoleClock(clockwork.NewFakeClock()))
	t.Cleanup(func() { _ = handler.Close() })
	l, err := Listen("127.0.0.1:0", ListenerConfig{
		StaticKey:                    static,
		Handler:                      handler,
		BlackHoleOnFirstFrameFailure: blackHoleFirstFrame,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	accepted := make(chan *Conn, 1)
	go func() {
		conn, err := l.AcceptDarkStar()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := Dial(l.Addr().String(), static.Compact())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.Close() })
		return client, server, l, handler
	case <-time.After(waitFor):
		t.Fatal("session was not accepted")
		return nil, nil, nil, nil
	}
}
