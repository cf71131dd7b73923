package darkstar

import (
	"crypto/sha256"
	"crypto/subtle"
)

// ConfirmationCodeSize is the size of a SHA-256 confirmation code.
const ConfirmationCodeSize = sha256.Size

// protocolLabel separates DarkStar hashes from any other use of the same keys.
const protocolLabel = "DarkStar"

// Role names the side of the handshake. Its string form is the label hashed
// into confirmation codes and directional keys.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// GenerateConfirmationCode computes the code with which role proves knowledge
// of ecdhSecret. Input order is part of the protocol.
func GenerateConfirmationCode(role Role, ecdhSecret []byte, id ServerIdentifier, staticPublicCompact, ephemeralPublicCompact []byte) []byte {
	h := sha256.New()
	h.Write(ecdhSecret)
	h.Write(id[:])
	h.Write(staticPublicCompact)
	h.Write(ephemeralPublicCompact)
	h.Write([]byte(protocolLabel))
	h.Write([]byte(role))
	return h.Sum(nil)
}

// VerifyConfirmationCode compares codes in constant time.
func VerifyConfirmationCode(expected, received []byte) bool {
	return len(received) == ConfirmationCodeSize && subtle.ConstantTimeCompare(expected, received) == 1
}
