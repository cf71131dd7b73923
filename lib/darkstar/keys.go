package darkstar

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"math/big"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

// CompactKeySize is the size of a compact P-256 public key on the wire.
const CompactKeySize = 32

// KeyAgreement is the capability a static key must offer to the handshake.
// Software keys are *KeyPair; a hardware-backed key only needs these methods
// and never has to expose its scalar.
type KeyAgreement interface {
	PublicKey() *ecdh.PublicKey
	ECDH(remote *ecdh.PublicKey) ([]byte, error)
}

// KeyPair is a software-backed P-256 key pair whose public key is
// compact-representable.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh compact-representable key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, oops.Wrapf(ErrKeyAgreement, "generating P-256 key: %v", err)
	}
	return NewKeyPair(priv)
}

// NewKeyPair wraps an existing private key. A key whose public point has the
// larger Y root is replaced by its negation; both produce the same compact
// public key and the same ECDH outputs.
func NewKeyPair(priv *ecdh.PrivateKey) (*KeyPair, error) {
	if priv == nil || priv.Curve() != ecdh.P256() {
		return nil, oops.Wrapf(ErrMalformedPublicKey, "key pair requires a P-256 private key")
	}
	if isCompactRepresentable(priv.PublicKey()) {
		return &KeyPair{private: priv}, nil
	}

	n := elliptic.P256().Params().N
	d := new(big.Int).SetBytes(priv.Bytes())
	d.Sub(n, d)
	scalar := make([]byte, 32)
	d.FillBytes(scalar)

	negated, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, oops.Wrapf(ErrKeyAgreement, "negating private key: %v", err)
	}
	return &KeyPair{private: negated}, nil
}

// NewKeyPairFromBytes parses a 32-byte big-endian private scalar.
func NewKeyPairFromBytes(scalar []byte) (*KeyPair, error) {
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, oops.Wrapf(ErrMalformedPublicKey, "invalid P-256 private key: %v", err)
	}
	return NewKeyPair(priv)
}

func (k *KeyPair) PublicKey() *ecdh.PublicKey {
	return k.private.PublicKey()
}

// ECDH returns the raw 32-byte shared X coordinate.
func (k *KeyPair) ECDH(remote *ecdh.PublicKey) ([]byte, error) {
	if k.private == nil {
		return nil, oops.Wrapf(ErrKeyAgreement, "key pair was destroyed")
	}
	secret, err := k.private.ECDH(remote)
	if err != nil {
		return nil, oops.Wrapf(ErrKeyAgreement, "%v", err)
	}
	return secret, nil
}

// Compact returns the 32-byte compact public key.
func (k *KeyPair) Compact() []byte {
	return CompactPublicKey(k.private.PublicKey())
}

// Bytes returns the private scalar. Used by the key store only.
func (k *KeyPair) Bytes() []byte {
	return k.private.Bytes()
}

// Destroy drops the reference to the private key. Ephemeral keys are single use.
func (k *KeyPair) Destroy() {
	k.private = nil
}

// CompactPublicKey encodes pub as its big-endian X coordinate.
func CompactPublicKey(pub *ecdh.PublicKey) []byte {
	raw := pub.Bytes()
	out := make([]byte, CompactKeySize)
	copy(out, raw[1:1+CompactKeySize])
	return out
}

// DecodeCompactPublicKey recovers a public key from its X coordinate, choosing
// the smaller Y root.
func DecodeCompactPublicKey(compact []byte) (*ecdh.PublicKey, error) {
	if len(compact) != CompactKeySize {
		return nil, oops.Wrapf(ErrMalformedPublicKey, "expected %d bytes, got %d", CompactKeySize, len(compact))
	}

	compressed := make([]byte, 1+CompactKeySize)
	compressed[0] = 0x02
	copy(compressed[1:], compact)
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), compressed)
	if x == nil {
		return nil, oops.Wrapf(ErrMalformedPublicKey, "X coordinate is not on P-256")
	}

	p := elliptic.P256().Params().P
	alt := new(big.Int).Sub(p, y)
	if alt.Cmp(y) < 0 {
		y = alt
	}

	uncompressed := make([]byte, 1+2*CompactKeySize)
	uncompressed[0] = 0x04
	x.FillBytes(uncompressed[1 : 1+CompactKeySize])
	y.FillBytes(uncompressed[1+CompactKeySize:])

	pub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, oops.Wrapf(ErrMalformedPublicKey, "%v", err)
	}
	return pub, nil
}

func isCompactRepresentable(pub *ecdh.PublicKey) bool {
	raw := pub.Bytes()
	y := new(big.Int).SetBytes(raw[1+CompactKeySize:])
	alt := new(big.Int).Sub(elliptic.P256().Params().P, y)
	return y.Cmp(alt) <= 0
}
