// Package blackhole keeps a failed handshake looking like a live encrypted
// session until a timeout, then closes it.
//
// A scanner that sends garbage to a DarkStar server must not learn
// anything from the server's reaction. Instead of resetting the connection, the
// server hands it to a BlackHole, which writes random frame-sized payloads at
// random intervals and never reads what the peer sends.
package blackhole

import (
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTimeout is how long a hole stays open.
	DefaultTimeout = 30 * time.Second

	minPacketDelay = 1 * time.Second
	maxPacketDelay = 5 * time.Second

	// Payload sizes match real records net of AEAD overhead.
	minPacketSize = 496
	maxPacketSize = 1424
)

var log = logger.GetGoI2PLogger()

// aLongTimeAgo is a non-zero time in the past, used to expire deadlines.
var aLongTimeAgo = time.Unix(1, 0)

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// BlackHole owns a stream from Start until it closes it.
type BlackHole struct {
	conn    io.WriteCloser
	clock   clockwork.Clock
	timeout time.Duration

	// mu serialises packet sends with timer bookkeeping.
	mu          sync.Mutex
	active      atomic.Bool
	packetTimer clockwork.Timer
	expiryTimer clockwork.Timer

	packets   atomic.Int64
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Option configures a BlackHole.
type Option func(*BlackHole)

// WithClock replaces the real clock, typically with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(b *BlackHole) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithTimeout sets how long the hole stays open. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(b *BlackHole) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Start takes ownership of conn and returns immediately. Writes are bounded
// through SetWriteDeadline when conn has it; otherwise conn's Write must not
// block indefinitely, or Close waits for it. The first packet is
// sent no later than half the timeout so even a short-lived hole carries
// traffic.
func Start(conn io.WriteCloser, opts ...Option) *BlackHole {
	b := &BlackHole{
		conn:    conn,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if wd, ok := conn.(writeDeadliner); ok {
		// Socket deadlines are wall-clock; bound writes to a peer that stopped reading.
		_ = wd.SetWriteDeadline(time.Now().Add(b.timeout))
	}

	first := randomDelay()
	if limit := b.timeout / 2; first > limit {
		first = limit
	}

	b.active.Store(true)
	b.mu.Lock()
	b.packetTimer = b.clock.AfterFunc(first, b.sendPacket)
	b.expiryTimer = b.clock.AfterFunc(b.timeout, b.expire)
	b.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":          "blackhole.Start",
		"timeout":     b.timeout,
		"first_delay": first,
	}).Debug("stream handed to black hole")
	return b
}

func (b *BlackHole) sendPacket() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active.Load() {
		return
	}

	payload, err := randomPayload()
	if err != nil {
		log.WithError(err).Warn("black hole could not draw a payload")
	} else if _, err := b.conn.Write(payload); err != nil {
		log.WithError(err).WithField("at", "(BlackHole) sendPacket").Debug("black hole write failed")
	} else {
		b.packets.Add(1)
	}

	if b.active.Load() {
		b.packetTimer = b.clock.AfterFunc(randomDelay(), b.sendPacket)
	}
}

func (b *BlackHole) expire() {
	log.WithFields(logger.Fields{
		"at":      "(BlackHole) expire",
		"packets": b.packets.Load(),
	}).Debug("black hole timed out")
	_ = b.Close()
}

// Close deactivates the hole, cancels its timers and closes the stream once.
// It waits for an in-flight packet write, so nothing is written after the
// stream is closed. It is safe to call at any time and from any goroutine.
func (b *BlackHole) Close() error {
	b.closeOnce.Do(func() {
		b.active.Store(false)
		// Expire the write deadline so a send stuck on a stalled peer
		// returns and releases mu.
		if wd, ok := b.conn.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(aLongTimeAgo)
		}

		b.mu.Lock()
		if b.packetTimer != nil {
			b.packetTimer.Stop()
		}
		if b.expiryTimer != nil {
			b.expiryTimer.Stop()
		}
		b.closeErr = b.conn.Close()
		b.mu.Unlock()
		close(b.done)
	})
	return b.closeErr
}

// Active reports whether the hole still sends traffic.
func (b *BlackHole) Active() bool {
	return b.active.Load()
}

// Done is closed once the stream has been closed.
func (b *BlackHole) Done() <-chan struct{} {
	return b.done
}

// PacketsSent counts payloads successfully written.
func (b *BlackHole) PacketsSent() int64 {
	return b.packets.Load()
}

func randomDelay() time.Duration {
	span := int64((maxPacketDelay - minPacketDelay) / time.Millisecond)
	return minPacketDelay + time.Duration(randomInt(span+1))*time.Millisecond
}

func randomPayload() ([]byte, error) {
	size := minPacketSize + int(randomInt(maxPacketSize-minPacketSize+1))
	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// randomInt returns a uniform value in [0, max), or 0 if the CSPRNG fails.
func randomInt(max int64) int64 {
	if max <= 0 {
		return 0
	}
	n, err := rand.CryptoInt(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0
	}
	return n.Int64()
}
