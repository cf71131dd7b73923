package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/record"
	"github.com/go-i2p/logger"
)

// Conn is an established DarkStar session. It implements net.Conn.
//
// A record that fails to authenticate, a frame cut short, an exhausted nonce
// counter or any other stream error ends the session: the underlying
// connection is closed (or, for a first-record failure on the server, handed
// to the black hole) and every later Read and Write returns the same error.
// A clean end of stream between records is reported as io.EOF and is not a
// failure.
type Conn struct {
	raw    net.Conn
	cipher *record.Cipher
	role   darkstar.Role
	id     string

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex

	// divert receives the raw connection when the first inbound record
	// fails to authenticate. Nil on the client side.
	divert   func(net.Conn, error)
	diverted atomic.Bool

	failMu  sync.Mutex
	failErr error

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Conn)(nil)

func newConn(raw net.Conn, c *record.Cipher, role darkstar.Role, id string) *Conn {
	return &Conn{
		raw:    raw,
		cipher: c,
		role:   role,
		id:     id,
	}
}

// ID returns the identifier used for this connection in log output.
func (c *Conn) ID() string {
	return c.id
}

// Role returns which side of the handshake this connection played.
func (c *Conn) Role() darkstar.Role {
	return c.role
}

// Diverted reports whether the connection was handed to the black hole.
func (c *Conn) Diverted() bool {
	return c.diverted.Load()
}

// ReadMessage reads exactly one record and returns its payload, which may be
// empty. It must not be mixed with partial Reads of the same record.
func (c *Conn) ReadMessage() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) > 0 {
		p := c.pending
		c.pending = nil
		return p, nil
	}
	return c.readFrame()
}

// Read fills p from the current record, reading a new one when the buffer is
// empty. Empty records are skipped.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for len(c.pending) == 0 {
		frame, err := c.readFrame()
		if err != nil {
			return 0, err
		}
		c.pending = frame
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) readFrame() ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	frame, err := c.cipher.ReadFrame(c.raw)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, c.fail(err)
	}
	return frame, nil
}

// usable returns the error that ended the session, if any.
func (c *Conn) usable() error {
	if c.diverted.Load() {
		return ErrConnectionDiverted
	}
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

// fail records err as the session's terminal error and tears the stream
// down. Only the first failure is kept; later callers get it back.
func (c *Conn) fail(err error) error {
	c.failMu.Lock()
	if c.failErr != nil {
		stored := c.failErr
		c.failMu.Unlock()
		return stored
	}
	c.failErr = err
	c.failMu.Unlock()

	log.WithError(err).WithFields(logger.Fields{
		"at":      "(Conn) fail",
		"conn_id": c.id,
		"role":    string(c.role),
	}).Debug("DarkStar session failed")

	if c.divert != nil && errors.Is(err, record.ErrHandshakeCorrupted) {
		c.divertToHandler(err)
	} else {
		_ = c.Close()
	}
	return err
}

func (c *Conn) divertToHandler(err error) {
	if !c.diverted.CompareAndSwap(false, true) {
		return
	}
	log.WithFields(logger.Fields{
		"at":      "(Conn) divertToHandler",
		"conn_id": c.id,
		"remote":  remoteString(c.raw),
	}).Debug("first record failed to authenticate")
	c.divert(c.raw, err)
	_ = c.Close()
}

// WriteMessage sends p as a single record. p may be empty but must not exceed
// record.MaxPayloadSize.
func (c *Conn) WriteMessage(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	return c.writeFrame(p)
}

// Write splits p into records of at most record.MaxPayloadSize bytes.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.usable(); err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		end := written + record.MaxPayloadSize
		if end > len(p) {
			end = len(p)
		}
		if err := c.writeFrame(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// writeFrame seals and sends one record. An oversized payload is refused
// before any nonce is used and leaves the session intact.
func (c *Conn) writeFrame(p []byte) error {
	err := c.cipher.WriteFrame(c.raw, p)
	if err == nil || errors.Is(err, record.ErrFrameTooLarge) {
		return err
	}
	return c.fail(err)
}

// Close closes the underlying connection unless it was diverted, in which
// case the handler owns it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if !c.diverted.Load() {
			c.closeErr = c.raw.Close()
		}
		if c.onClose != nil {
			c.onClose()
		}
		log.WithFields(logger.Fields{
			"at":       "(Conn) Close",
			"conn_id":  c.id,
			"role":     string(c.role),
			"diverted": c.diverted.Load(),
		}).Debug("DarkStar connection closed")
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.raw.SetWriteDeadline(t)
}
