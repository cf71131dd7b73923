// Package transport carries DarkStar sessions over TCP.
//
// # Overview
//
// A Listener accepts raw TCP connections, runs the DarkStar server handshake
// on each one and hands out authenticated Conn values. Dial is the client
// side: it resolves the server's IPv4 address, runs the client handshake and
// returns a Conn ready for application data.
//
// Conn implements net.Conn on top of the record layer. Writes larger than a
// single record are split across frames; reads return buffered plaintext
// from the current frame before pulling the next one off the wire.
// ReadMessage and WriteMessage expose the frame boundaries directly.
//
// # Failure Handling
//
// Every server-side handshake failure is passed to the listener's Handler.
// DefaultHandler black-holes the connection: it drains whatever the peer
// sends, emits random-length random data at random intervals and closes the
// socket once the black hole times out. A scanner sees the same behaviour for
// a malformed key, a wrong confirmation code, a replayed ephemeral key or a
// rate-limited source.
//
// When ListenerConfig.BlackHoleOnFirstFrameFailure is set, a server Conn that
// cannot authenticate the client's first record is diverted to the same
// Handler instead of being closed.
//
// # Thread Safety
//
// Listener and DefaultHandler are safe for concurrent use. A Conn allows one
// concurrent reader and one concurrent writer.
package transport
