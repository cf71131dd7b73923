package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/record"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultHandshakeTimeout bounds how long a client may take to complete the
// handshake before it is black-holed.
const DefaultHandshakeTimeout = 10 * time.Second

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// StaticKey is the server's long-term key pair.
	StaticKey darkstar.KeyAgreement

	// Identifier is the endpoint clients dial. When zero it is taken from
	// the listening address, which must then be a specific IPv4 address.
	Identifier darkstar.ServerIdentifier

	// Handler receives failed connections. Defaults to a DefaultHandler
	// without replay detection.
	Handler Handler

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// HandshakeRate limits handshakes per second from one source IP.
	// Zero disables the limit.
	HandshakeRate  rate.Limit
	HandshakeBurst int

	// MaxConnections caps concurrent established sessions. Zero means no cap.
	MaxConnections int

	// BlackHoleOnFirstFrameFailure diverts a session to Handler when the
	// client's first record does not authenticate.
	BlackHoleOnFirstFrameFailure bool
}

// Listener accepts DarkStar sessions.
type Listener struct {
	inner   net.Listener
	config  ListenerConfig
	limiter *sourceLimiter

	accepted chan *Conn
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once
	errMu     sync.Mutex
	acceptErr error

	activeSessions int32
}

var _ net.Listener = (*Listener)(nil)

// Listen opens a TCP listener on address and serves DarkStar on it.
func Listen(address string, config ListenerConfig) (*Listener, error) {
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return nil, WrapTransportError(err, "listening")
	}
	l, err := NewListener(inner, config)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return l, nil
}

// NewListener serves DarkStar on an existing listener. The Listener owns
// inner from then on.
func NewListener(inner net.Listener, config ListenerConfig) (*Listener, error) {
	if config.StaticKey == nil {
		return nil, ErrMissingStaticKey
	}
	if config.Identifier == (darkstar.ServerIdentifier{}) {
		id, err := identifierFromAddr(inner.Addr())
		if err != nil {
			return nil, err
		}
		config.Identifier = id
	}
	if config.Handler == nil {
		config.Handler = NewDefaultHandler(nil)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		inner:    inner,
		config:   config,
		limiter:  newSourceLimiter(config.HandshakeRate, config.HandshakeBurst),
		accepted: make(chan *Conn),
		ctx:      ctx,
		cancel:   cancel,
	}

	log.WithFields(logger.Fields{
		"at":              "NewListener",
		"address":         inner.Addr().String(),
		"identifier":      config.Identifier.String(),
		"handshake_rate":  float64(config.HandshakeRate),
		"max_connections": config.MaxConnections,
	}).Info("DarkStar listener started")

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func identifierFromAddr(addr net.Addr) (darkstar.ServerIdentifier, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp.IP.To4() == nil || tcp.IP.IsUnspecified() {
		return darkstar.ServerIdentifier{}, WrapTransportError(darkstar.ErrInvalidServerIdentifier, "deriving identifier from "+addr.String())
	}
	return darkstar.NewServerIdentifier(tcp.IP, uint16(tcp.Port))
}

// Accept waits for the next established session.
func (l *Listener) Accept() (net.Conn, error) {
	return l.AcceptDarkStar()
}

// AcceptDarkStar is Accept with the concrete type.
func (l *Listener) AcceptDarkStar() (*Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.ctx.Done():
		l.errMu.Lock()
		defer l.errMu.Unlock()
		if l.acceptErr != nil {
			return nil, l.acceptErr
		}
		return nil, ErrListenerClosed
	}
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

// Identifier returns the server identifier bound into handshakes.
func (l *Listener) Identifier() darkstar.ServerIdentifier {
	return l.config.Identifier
}

// ActiveSessions returns the number of established sessions not yet closed.
func (l *Listener) ActiveSessions() int {
	return int(atomic.LoadInt32(&l.activeSessions))
}

// Close stops accepting and waits for in-flight handshakes to finish.
// Established sessions stay open.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.inner.Close()
		l.wg.Wait()
		log.WithFields(logger.Fields{
			"at":      "(Listener) Close",
			"address": l.inner.Addr().String(),
		}).Info("DarkStar listener closed")
	})
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		raw, err := l.inner.Accept()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.WithError(err).WithField("at", "(Listener) acceptLoop").Error("accept failed")
			l.errMu.Lock()
			l.acceptErr = WrapTransportError(err, "accepting")
			l.errMu.Unlock()
			l.cancel()
			return
		}
		l.wg.Add(1)
		go l.serve(raw)
	}
}

func (l *Listener) serve(raw net.Conn) {
	defer l.wg.Done()
	connID := uuid.NewString()
	fields := logger.Fields{
		"at":      "(Listener) serve",
		"conn_id": connID,
		"remote":  remoteString(raw),
	}

	if !l.limiter.allow(raw.RemoteAddr()) {
		l.reject(raw, ErrRateLimited, fields)
		return
	}
	if l.config.MaxConnections > 0 && l.ActiveSessions() >= l.config.MaxConnections {
		l.reject(raw, ErrConnectionLimit, fields)
		return
	}

	keys, err := l.handshake(raw)
	if err != nil {
		l.reject(raw, err, fields)
		return
	}
	c, err := record.NewForRole(keys, darkstar.RoleServer)
	if err != nil {
		l.reject(raw, err, fields)
		return
	}

	conn := newConn(raw, c, darkstar.RoleServer, connID)
	if l.config.BlackHoleOnFirstFrameFailure {
		conn.divert = l.config.Handler.OnHandshakeError
	}
	atomic.AddInt32(&l.activeSessions, 1)
	conn.onClose = func() {
		atomic.AddInt32(&l.activeSessions, -1)
	}
	log.WithFields(fields).Debug("DarkStar handshake complete")

	select {
	case l.accepted <- conn:
	case <-l.ctx.Done():
		_ = conn.Close()
	}
}

func (l *Listener) handshake(raw net.Conn) (*darkstar.SessionKeys, error) {
	hs, err := darkstar.NewServerHandshake(l.config.StaticKey, l.config.Identifier, replayGuard{handler: l.config.Handler})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(l.ctx, l.config.HandshakeTimeout)
	defer cancel()
	return darkstar.ServerHandshakeContext(ctx, raw, hs)
}

// reject hands raw to the handler unless the listener is shutting down.
func (l *Listener) reject(raw net.Conn, err error, fields logger.Fields) {
	log.WithError(err).WithFields(fields).WithField("reason", failureReason(err)).Debug("rejecting connection")
	if l.ctx.Err() != nil {
		_ = raw.Close()
		return
	}
	l.config.Handler.OnHandshakeError(raw, err)
}

// failureReason classifies err for log output. The peer never sees it.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, darkstar.ErrReplayDetected):
		return "replay"
	case errors.Is(err, darkstar.ErrInvalidClientConfirmation):
		return "client_confirmation"
	case errors.Is(err, darkstar.ErrMalformedPublicKey):
		return "malformed_key"
	case errors.Is(err, darkstar.ErrShortRead):
		return "short_read"
	case errors.Is(err, record.ErrHandshakeCorrupted):
		return "first_record"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConnectionLimit):
		return "connection_limit"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return "timeout"
	default:
		return "io"
	}
}
