package darkstar

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinels are plain errors so errors.Is matches them through oops wrapping.
var (
	ErrMalformedPublicKey        = errors.New("malformed DarkStar public key")
	ErrInvalidServerIdentifier   = errors.New("invalid DarkStar server identifier")
	ErrInvalidClientConfirmation = errors.New("invalid client confirmation code")
	ErrInvalidServerConfirmation = errors.New("invalid server confirmation code")
	ErrReplayDetected            = errors.New("client ephemeral key already seen")
	ErrKeyAgreement              = errors.New("P-256 key agreement failed")
	ErrShortRead                 = errors.New("stream ended before the expected number of bytes")
	ErrHandshakeComplete         = errors.New("handshake already ran")
)

// WrapDarkStarError adds operation context to an error from the handshake.
func WrapDarkStarError(err error, operation string) error {
	return oops.Wrapf(err, "DarkStar %s failed", operation)
}
