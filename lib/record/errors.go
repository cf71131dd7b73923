package record

import (
	"errors"

	"github.com/samber/oops"
)

var (
	ErrFrameTooLarge      = errors.New("record payload exceeds maximum size")
	ErrInvalidTag         = errors.New("record tag has the wrong size")
	ErrNonceExhausted     = errors.New("record nonce counter exhausted")
	ErrDecryption         = errors.New("record authentication failed")
	ErrHandshakeCorrupted = errors.New("first record failed to authenticate; handshake keys disagree")
	ErrShortRead          = errors.New("stream ended inside a record")
	ErrInvalidKey         = errors.New("record key must be 32 bytes")
)

// IsAuthenticationFailure reports whether err came from a tag check rather
// than the underlying stream.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrDecryption) || errors.Is(err, ErrHandshakeCorrupted)
}

func wrapRecordError(err error, operation string) error {
	return oops.Wrapf(err, "record %s failed", operation)
}
