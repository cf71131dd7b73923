package darkstar

import (
	"crypto/sha256"
)

// KeySize is the size of each directional AES-256 key.
const KeySize = sha256.Size

// DeriveDirectionalKey hashes both ECDH outputs with the session transcript.
// personalization names the receiver of traffic protected by the key.
func DeriveDirectionalKey(ephemeralECDH, staticECDH []byte, id ServerIdentifier, clientEphemeralCompact, serverEphemeralCompact []byte, personalization Role) []byte {
	h := sha256.New()
	h.Write(ephemeralECDH)
	h.Write(staticECDH)
	h.Write(id[:])
	h.Write(clientEphemeralCompact)
	h.Write(serverEphemeralCompact)
	h.Write([]byte(protocolLabel))
	h.Write([]byte(personalization))
	return h.Sum(nil)
}

// SessionKeys holds the two directional keys of one connection.
type SessionKeys struct {
	ClientToServer []byte
	ServerToClient []byte
}

func deriveSessionKeys(ephemeralECDH, staticECDH []byte, id ServerIdentifier, clientEphemeralCompact, serverEphemeralCompact []byte) *SessionKeys {
	return &SessionKeys{
		ClientToServer: DeriveDirectionalKey(ephemeralECDH, staticECDH, id, clientEphemeralCompact, serverEphemeralCompact, RoleServer),
		ServerToClient: DeriveDirectionalKey(ephemeralECDH, staticECDH, id, clientEphemeralCompact, serverEphemeralCompact, RoleClient),
	}
}

// EncryptKey returns the key role uses for outgoing traffic.
func (k *SessionKeys) EncryptKey(role Role) []byte {
	if role == RoleClient {
		return k.ClientToServer
	}
	return k.ServerToClient
}

// DecryptKey returns the key role uses for incoming traffic.
func (k *SessionKeys) DecryptKey(role Role) []byte {
	return k.EncryptKey(role.Peer())
}
