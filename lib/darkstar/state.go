package darkstar

// HandshakeState names what a handshake is blocked on. Both roles advance
// through the states in declaration order:
//
//   - AwaitingPeerEphemeral: reading the peer's ephemeral key. The client has
//     already sent its key and code.
//   - AwaitingConfirmation: the peer's key decoded (and, on the server, passed
//     the replay check); reading and checking the peer's confirmation code.
//   - AwaitingPeerKey: the peer is confirmed; the ephemeral agreement and
//     directional keys are being computed, and the server sends its key and code.
//   - Derived: keys are ready.
//
// Either side lands in Failed on any error. Derived and Failed are final.
type HandshakeState int

const (
	AwaitingPeerEphemeral HandshakeState = iota
	AwaitingConfirmation
	AwaitingPeerKey
	Derived
	Failed
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitingPeerEphemeral:
		return "awaiting peer ephemeral"
	case AwaitingConfirmation:
		return "awaiting confirmation"
	case AwaitingPeerKey:
		return "awaiting peer key"
	case Derived:
		return "derived"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s HandshakeState) Terminal() bool {
	return s == Derived || s == Failed
}
