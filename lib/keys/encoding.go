package keys

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/samber/oops"
)

var (
	ErrKeyNotFound    = errors.New("static key file not found")
	ErrInvalidKeyFile = errors.New("static key file is not a valid P-256 scalar")
	ErrInvalidPublic  = errors.New("public key must be 64 hex characters")
)

func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// EncodePublicKey renders a compact public key as lowercase hex.
func EncodePublicKey(compact []byte) string {
	return hex.EncodeToString(compact)
}

// DecodePublicKey parses hex produced by EncodePublicKey and checks that it
// names a point on the curve.
func DecodePublicKey(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != darkstar.CompactKeySize {
		return nil, oops.Wrapf(ErrInvalidPublic, "got %q", s)
	}
	if _, err := darkstar.DecodeCompactPublicKey(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
