package darkstar

import (
	"io"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ReplayGuard records client ephemeral keys. CheckAndInsert reports whether
// key was already present and records it if not, as one atomic step.
type ReplayGuard interface {
	CheckAndInsert(key []byte) (seen bool, err error)
}

// ServerHandshake runs the server side of the key exchange. Its errors are for
// local logging only; see the package documentation.
type ServerHandshake struct {
	static        KeyAgreement
	staticCompact []byte
	id            ServerIdentifier
	replay        ReplayGuard
	state         HandshakeState
}

// NewServerHandshake prepares a handshake for one inbound stream. replay may
// be nil to disable replay detection.
func NewServerHandshake(static KeyAgreement, id ServerIdentifier, replay ReplayGuard) (*ServerHandshake, error) {
	if static == nil {
		return nil, oops.Errorf("server handshake requires a static key")
	}
	return &ServerHandshake{
		static:        static,
		staticCompact: CompactPublicKey(static.PublicKey()),
		id:            id,
		replay:        replay,
		state:         AwaitingPeerEphemeral,
	}, nil
}

func (h *ServerHandshake) State() HandshakeState {
	return h.state
}

// Run performs the exchange over rw and returns the directional keys.
func (h *ServerHandshake) Run(rw io.ReadWriter) (*SessionKeys, error) {
	if h.state.Terminal() {
		return nil, ErrHandshakeComplete
	}
	keys, err := h.run(rw)
	if err != nil {
		h.state = Failed
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(ServerHandshake) Run",
			"server": h.id.String(),
		}).Debug("server handshake failed")
		return nil, err
	}
	h.state = Derived
	return keys, nil
}

func (h *ServerHandshake) run(rw io.ReadWriter) (*SessionKeys, error) {
	clientEphemeralCompact, err := readExactly(rw, CompactKeySize)
	if err != nil {
		return nil, WrapDarkStarError(err, "reading client ephemeral key")
	}
	clientEphemeral, err := DecodeCompactPublicKey(clientEphemeralCompact)
	if err != nil {
		return nil, err
	}

	if h.replay != nil {
		seen, err := h.replay.CheckAndInsert(clientEphemeralCompact)
		if err != nil {
			return nil, WrapDarkStarError(err, "recording client ephemeral key")
		}
		if seen {
			return nil, ErrReplayDetected
		}
	}
	h.state = AwaitingConfirmation

	clientCode, err := readExactly(rw, ConfirmationCodeSize)
	if err != nil {
		return nil, WrapDarkStarError(err, "reading client confirmation code")
	}
	staticECDH, err := h.static.ECDH(clientEphemeral)
	if err != nil {
		return nil, err
	}
	expected := GenerateConfirmationCode(RoleClient, staticECDH, h.id, h.staticCompact, clientEphemeralCompact)
	if !VerifyConfirmationCode(expected, clientCode) {
		return nil, ErrInvalidClientConfirmation
	}
	h.state = AwaitingPeerKey

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer ephemeral.Destroy()
	serverEphemeralCompact := ephemeral.Compact()

	ephemeralECDH, err := ephemeral.ECDH(clientEphemeral)
	if err != nil {
		return nil, err
	}
	keys := deriveSessionKeys(ephemeralECDH, staticECDH, h.id, clientEphemeralCompact, serverEphemeralCompact)
	serverCode := GenerateConfirmationCode(RoleServer, staticECDH, h.id, h.staticCompact, serverEphemeralCompact)

	if err := writeAll(rw, serverEphemeralCompact, serverCode); err != nil {
		return nil, WrapDarkStarError(err, "writing server key")
	}
	return keys, nil
}
