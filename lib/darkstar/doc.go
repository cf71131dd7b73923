// Package darkstar implements the DarkStar key exchange.
//
// # Overview
//
// DarkStar authenticates a server to a client that already knows the server's
// static P-256 public key, and derives two directional AES-256-GCM keys for the
// record layer. The server's static key never appears on the wire.
//
// # Wire Format
//
// All fields are fixed size and carry no framing or version negotiation:
//
//	client -> server: ephemeral public key (32, compact) || confirmation code (32)
//	server -> client: ephemeral public key (32, compact) || confirmation code (32)
//
// Public keys use the compact encoding: the big-endian X coordinate only. Every
// key this package generates is compact-representable, meaning its Y coordinate
// is the smaller of the two roots.
//
// # Failure Handling
//
// ClientHandshake returns typed errors so a misconfigured client can be
// diagnosed. ServerHandshake also returns typed errors, but callers must not let
// the cause reach the peer: lib/transport funnels every server-side failure into
// a black hole so replay, authentication and parse failures look identical.
//
// # Thread Safety
//
// Handshake values are single use and owned by one goroutine. Code generation
// and key derivation are pure functions. The ReplayGuard passed to a server
// handshake is shared and must be safe for concurrent use.
package darkstar
