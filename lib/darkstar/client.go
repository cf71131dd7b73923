package darkstar

import (
	"crypto/ecdh"
	"io"

	"github.com/go-i2p/logger"
)

// ClientHandshake runs the client side of the key exchange against a server
// whose static public key was distributed out of band.
type ClientHandshake struct {
	serverStatic        *ecdh.PublicKey
	serverStaticCompact []byte
	id                  ServerIdentifier
	state               HandshakeState
}

// NewClientHandshake validates the server's compact static key.
func NewClientHandshake(serverStaticCompact []byte, id ServerIdentifier) (*ClientHandshake, error) {
	serverStatic, err := DecodeCompactPublicKey(serverStaticCompact)
	if err != nil {
		return nil, WrapDarkStarError(err, "decoding server static key")
	}
	return &ClientHandshake{
		serverStatic:        serverStatic,
		serverStaticCompact: CompactPublicKey(serverStatic),
		id:                  id,
		state:               AwaitingPeerEphemeral,
	}, nil
}

func (h *ClientHandshake) State() HandshakeState {
	return h.state
}

// Run performs the exchange over rw and returns the directional keys. A
// ClientHandshake runs at most once.
func (h *ClientHandshake) Run(rw io.ReadWriter) (*SessionKeys, error) {
	if h.state.Terminal() {
		return nil, ErrHandshakeComplete
	}
	keys, err := h.run(rw)
	if err != nil {
		h.state = Failed
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(ClientHandshake) Run",
			"server": h.id.String(),
		}).Debug("client handshake failed")
		return nil, err
	}
	h.state = Derived
	return keys, nil
}

func (h *ClientHandshake) run(rw io.ReadWriter) (*SessionKeys, error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer ephemeral.Destroy()
	clientEphemeralCompact := ephemeral.Compact()

	staticECDH, err := ephemeral.ECDH(h.serverStatic)
	if err != nil {
		return nil, err
	}
	clientCode := GenerateConfirmationCode(RoleClient, staticECDH, h.id, h.serverStaticCompact, clientEphemeralCompact)
	if err := writeAll(rw, clientEphemeralCompact, clientCode); err != nil {
		return nil, WrapDarkStarError(err, "writing client key")
	}

	serverEphemeralCompact, err := readExactly(rw, CompactKeySize)
	if err != nil {
		return nil, WrapDarkStarError(err, "reading server ephemeral key")
	}
	serverEphemeral, err := DecodeCompactPublicKey(serverEphemeralCompact)
	if err != nil {
		return nil, err
	}
	h.state = AwaitingConfirmation

	serverCode, err := readExactly(rw, ConfirmationCodeSize)
	if err != nil {
		return nil, WrapDarkStarError(err, "reading server confirmation code")
	}
	expected := GenerateConfirmationCode(RoleServer, staticECDH, h.id, h.serverStaticCompact, serverEphemeralCompact)
	if !VerifyConfirmationCode(expected, serverCode) {
		return nil, ErrInvalidServerConfirmation
	}
	h.state = AwaitingPeerKey

	ephemeralECDH, err := ephemeral.ECDH(serverEphemeral)
	if err != nil {
		return nil, err
	}
	return deriveSessionKeys(ephemeralECDH, staticECDH, h.id, clientEphemeralCompact, serverEphemeralCompact), nil
}
