package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-i2p/go-darkstar/lib/bloom"
	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/go-i2p/go-darkstar/lib/transport"
	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// Server is the echo service behind "darkstar server".
type Server struct {
	keyStore *keys.StaticKeyStore
	filter   *bloom.Filter
	handler  *transport.DefaultHandler
	listener *transport.Listener

	mu        sync.Mutex
	closed    bool
	sessions  map[*transport.Conn]struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer loads or creates the static key and replay filter and starts
// listening. Call Serve to accept sessions.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	keyDir, keyName := splitKeyPath(cfg.ServerPrivateKeyFile)
	ks, err := keys.LoadOrGenerate(keyDir, keyName)
	if err != nil {
		return nil, err
	}
	static, err := ks.KeyPair()
	if err != nil {
		return nil, err
	}

	filter, err := bloom.Load(cfg.Bloom.Path, cfg.Bloom.Bits, cfg.Bloom.Hashes)
	if err != nil {
		return nil, err
	}

	var id darkstar.ServerIdentifier
	if cfg.ServerAddress != "" {
		id, err = (&transport.Dialer{}).ResolveIdentifier(ctx, cfg.ServerAddress)
		if err != nil {
			return nil, err
		}
	}

	handler := transport.NewDefaultHandler(filter, transport.WithBlackHoleTimeout(cfg.BlackHole.Timeout))
	listener, err := transport.Listen(cfg.ListenAddress, transport.ListenerConfig{
		StaticKey:                    static,
		Identifier:                   id,
		Handler:                      handler,
		HandshakeTimeout:             cfg.Listener.HandshakeTimeout,
		HandshakeRate:                rate.Limit(cfg.Listener.HandshakeRate),
		HandshakeBurst:               cfg.Listener.HandshakeBurst,
		MaxConnections:               cfg.Listener.MaxConnections,
		BlackHoleOnFirstFrameFailure: cfg.Listener.BlackHoleFirstFrame,
	})
	if err != nil {
		_ = handler.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":         "NewServer",
		"address":    listener.Addr().String(),
		"identifier": listener.Identifier().String(),
		"key_id":     ks.KeyID(),
		"public_key": ks.PublicKeyHex(),
		"bloom":      filter.Path(),
	}).Info("DarkStar server ready")

	return &Server{
		keyStore: ks,
		filter:   filter,
		handler:  handler,
		listener: listener,
		sessions: make(map[*transport.Conn]struct{}),
	}, nil
}

// splitKeyPath turns /dir/name.key into ("/dir", "name").
func splitKeyPath(path string) (string, string) {
	return filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), ".key")
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) PublicKey() string {
	return s.keyStore.PublicKeyHex()
}

// Serve accepts sessions and echoes their data until the listener closes.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptDarkStar()
		if err != nil {
			if errors.Is(err, transport.ErrListenerClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go s.echo(conn)
	}
}

func (s *Server) track(conn *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *transport.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn)
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

func (s *Server) echo(conn *transport.Conn) {
	defer s.untrack(conn)
	n, err := io.Copy(conn, conn)
	fields := logger.Fields{
		"at":      "(Server) echo",
		"conn_id": conn.ID(),
		"bytes":   n,
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Debug("session ended with error")
		return
	}
	log.WithFields(fields).Debug("session ended")
}

// StopAccepting closes the listener. Open sessions continue.
func (s *Server) StopAccepting() error {
	return s.listener.Close()
}

// Reload persists the replay filter and reports its saturation.
func (s *Server) Reload() {
	if err := s.filter.Persist(); err != nil {
		log.WithError(err).Warn("could not persist replay filter")
	}
	log.WithFields(logger.Fields{
		"at":          "(Server) Reload",
		"saturation":  s.filter.Saturation(),
		"black_holes": s.handler.ActiveBlackHoles(),
		"sessions":    s.listener.ActiveSessions(),
	}).Info("server status")
}

// Close stops the listener, ends open sessions, releases black holes and
// persists the filter.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		errs = append(errs, s.listener.Close())

		s.mu.Lock()
		s.closed = true
		for conn := range s.sessions {
			errs = append(errs, conn.Close())
		}
		s.mu.Unlock()

		errs = append(errs, s.handler.Close(), s.filter.Persist())
	})
	return errors.Join(errs...)
}
