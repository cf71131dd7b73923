package transport

import (
	"errors"

	"github.com/samber/oops"
)

var (
	ErrListenerClosed     = errors.New("DarkStar listener closed")
	ErrRateLimited        = errors.New("handshake rate exceeded for source")
	ErrConnectionLimit    = errors.New("maximum concurrent DarkStar sessions reached")
	ErrNoIPv4Address      = errors.New("server address has no IPv4 record")
	ErrMissingStaticKey   = errors.New("listener requires a static key")
	ErrConnectionDiverted = errors.New("connection was handed to the black hole")
)

// WrapTransportError adds operation context to a transport error.
func WrapTransportError(err error, operation string) error {
	return oops.Wrapf(err, "DarkStar transport %s failed", operation)
}
