package record

import (
	"encoding/binary"
	"math"
)

// NonceSize is the GCM nonce size.
const NonceSize = 12

// nonceFixedField identifies DarkStar nonces. Direction separation comes from
// the keys, not from this field.
var nonceFixedField = [4]byte{0x1a, 0x1a, 0x1a, 0x1a}

// NonceCounter produces the invocation field of deterministic GCM nonces.
// The counter value math.MaxUint64 is never used.
type NonceCounter struct {
	next uint64
}

// Next returns the nonce for the current counter value and advances it.
func (c *NonceCounter) Next() ([]byte, error) {
	if c.next == math.MaxUint64 {
		return nil, ErrNonceExhausted
	}
	nonce := make([]byte, NonceSize)
	copy(nonce, nonceFixedField[:])
	binary.BigEndian.PutUint64(nonce[4:], c.next)
	c.next++
	return nonce, nil
}

// Value is the number of nonces consumed so far.
func (c *NonceCounter) Value() uint64 {
	return c.next
}
