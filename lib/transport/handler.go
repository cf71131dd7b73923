package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-darkstar/lib/blackhole"
	"github.com/go-i2p/go-darkstar/lib/bloom"
	"github.com/go-i2p/logger"
	"github.com/jonboulle/clockwork"
)

// SaturationWarningThreshold is the fraction of set replay filter bits above
// which the false-positive rate becomes noticeable for legitimate clients.
const SaturationWarningThreshold = 0.5

// Handler receives the server-side events that must look identical to a
// scanner. Implementations must be safe for concurrent use.
type Handler interface {
	// OnHandshakeError takes ownership of rawConn after a failed handshake
	// or a diverted first record. rawConn must not be closed by the caller.
	OnHandshakeError(rawConn net.Conn, err error)

	// CheckReplay records ephemeralKey and reports whether it was already
	// present. It is shared by every connection on a listener.
	CheckReplay(ephemeralKey []byte) (bool, error)
}

// replayGuard adapts a Handler to the handshake's replay hook.
type replayGuard struct {
	handler Handler
}

func (g replayGuard) CheckAndInsert(key []byte) (bool, error) {
	return g.handler.CheckReplay(key)
}

// DefaultHandler black-holes failed connections and checks replays against a
// persistent Bloom filter.
type DefaultHandler struct {
	filter  *bloom.Filter
	clock   clockwork.Clock
	timeout time.Duration

	mu     sync.Mutex
	holes  map[*blackhole.BlackHole]struct{}
	closed bool

	saturationWarned atomic.Bool
}

// HandlerOption configures a DefaultHandler.
type HandlerOption func(*DefaultHandler)

// WithBlackHoleClock sets the clock used to schedule black hole packets.
func WithBlackHoleClock(c clockwork.Clock) HandlerOption {
	return func(h *DefaultHandler) {
		h.clock = c
	}
}

// WithBlackHoleTimeout sets how long a black hole stays open.
func WithBlackHoleTimeout(d time.Duration) HandlerOption {
	return func(h *DefaultHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewDefaultHandler creates a handler backed by filter. A nil filter disables
// replay detection. Call Close when the listener shuts down to release any
// black holes that are still open.
func NewDefaultHandler(filter *bloom.Filter, opts ...HandlerOption) *DefaultHandler {
	h := &DefaultHandler{
		filter:  filter,
		clock:   clockwork.NewRealClock(),
		timeout: blackhole.DefaultTimeout,
		holes:   make(map[*blackhole.BlackHole]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnHandshakeError starts a black hole on rawConn. Nothing the peer sends
// afterwards is read.
func (h *DefaultHandler) OnHandshakeError(rawConn net.Conn, err error) {
	if rawConn == nil {
		return
	}
	log.WithError(err).WithFields(logger.Fields{
		"at":     "(DefaultHandler) OnHandshakeError",
		"remote": remoteString(rawConn),
		"reason": failureReason(err),
	}).Debug("black-holing connection")

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = rawConn.Close()
		return
	}
	hole := blackhole.Start(rawConn, blackhole.WithClock(h.clock), blackhole.WithTimeout(h.timeout))
	h.holes[hole] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-hole.Done()
		h.mu.Lock()
		delete(h.holes, hole)
		h.mu.Unlock()
	}()
}

// CheckReplay checks ephemeralKey against the shared Bloom filter.
func (h *DefaultHandler) CheckReplay(ephemeralKey []byte) (bool, error) {
	if h.filter == nil {
		return false, nil
	}
	seen, err := h.filter.CheckAndInsert(ephemeralKey)
	if err != nil {
		return seen, err
	}
	if saturation := h.filter.Saturation(); saturation > SaturationWarningThreshold && h.saturationWarned.CompareAndSwap(false, true) {
		log.WithFields(logger.Fields{
			"at":         "(DefaultHandler) CheckReplay",
			"saturation": saturation,
			"path":       h.filter.Path(),
		}).Warn("replay filter is more than half full; legitimate clients may be rejected")
	}
	return seen, nil
}

// ActiveBlackHoles returns the number of black holes still open.
func (h *DefaultHandler) ActiveBlackHoles() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.holes)
}

// Close closes every open black hole. Later failures close the raw
// connection immediately.
func (h *DefaultHandler) Close() error {
	h.mu.Lock()
	h.closed = true
	holes := make([]*blackhole.BlackHole, 0, len(h.holes))
	for hole := range h.holes {
		holes = append(holes, hole)
	}
	h.mu.Unlock()

	for _, hole := range holes {
		_ = hole.Close()
	}
	log.WithFields(logger.Fields{
		"at":     "(DefaultHandler) Close",
		"closed": len(holes),
	}).Debug("black holes released")
	return nil
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
