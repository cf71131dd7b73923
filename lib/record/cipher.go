package record

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	LengthSize     = 2
	TagSize        = 16
	MaxPayloadSize = 16417
	// MaxFrameSize is the largest frame Pack can emit.
	MaxFrameSize = LengthSize + TagSize + MaxPayloadSize + TagSize
)

var log = logger.GetGoI2PLogger()

// Cipher seals and opens frames for one connection.
type Cipher struct {
	encrypt        cipher.AEAD
	decrypt        cipher.AEAD
	encryptCounter NonceCounter
	decryptCounter NonceCounter

	// authenticated is set once any record has opened under decrypt.
	authenticated bool
}

// New builds a Cipher from raw directional keys.
func New(encryptKey, decryptKey []byte) (*Cipher, error) {
	enc, err := newGCM(encryptKey)
	if err != nil {
		return nil, err
	}
	dec, err := newGCM(decryptKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{encrypt: enc, decrypt: dec}, nil
}

// NewForRole picks the directional keys for role out of a finished handshake.
func NewForRole(keys *darkstar.SessionKeys, role darkstar.Role) (*Cipher, error) {
	if keys == nil {
		return nil, oops.Wrapf(ErrInvalidKey, "no session keys")
	}
	return New(keys.EncryptKey(role), keys.DecryptKey(role))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != darkstar.KeySize {
		return nil, oops.Wrapf(ErrInvalidKey, "got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapRecordError(err, "creating AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, wrapRecordError(err, "creating GCM")
	}
	return gcm, nil
}

// EncryptCounter is the number of nonces used for sealing.
func (c *Cipher) EncryptCounter() uint64 {
	return c.encryptCounter.Value()
}

// DecryptCounter is the number of nonces used for opening.
func (c *Cipher) DecryptCounter() uint64 {
	return c.decryptCounter.Value()
}

// Pack seals plaintext into a complete frame.
func (c *Cipher) Pack(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPayloadSize {
		return nil, oops.Wrapf(ErrFrameTooLarge, "%d > %d bytes", len(plaintext), MaxPayloadSize)
	}

	// Both nonces are reserved before sealing so an exhausted counter never
	// leaves a half-written frame.
	if c.encryptCounter.Value() >= ^uint64(0)-1 {
		return nil, ErrNonceExhausted
	}
	lengthNonce, err := c.encryptCounter.Next()
	if err != nil {
		return nil, err
	}
	payloadNonce, err := c.encryptCounter.Next()
	if err != nil {
		return nil, err
	}

	var length [LengthSize]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(plaintext)))

	frame := make([]byte, 0, LengthSize+TagSize+len(plaintext)+TagSize)
	frame = c.encrypt.Seal(frame, lengthNonce, length[:], nil)
	frame = c.encrypt.Seal(frame, payloadNonce, plaintext, nil)
	return frame, nil
}

// Unpack opens one sealed section whose ciphertext is
// expectedCiphertextLength bytes followed by a tag. The decrypt counter
// advances whether or not authentication succeeds.
func (c *Cipher) Unpack(sealed []byte, expectedCiphertextLength int) ([]byte, error) {
	if expectedCiphertextLength < 0 || expectedCiphertextLength > len(sealed) {
		return nil, oops.Wrapf(ErrInvalidTag, "ciphertext length %d outside %d-byte input", expectedCiphertextLength, len(sealed))
	}
	if len(sealed)-expectedCiphertextLength != TagSize {
		return nil, oops.Wrapf(ErrInvalidTag, "expected %d tag bytes, got %d", TagSize, len(sealed)-expectedCiphertextLength)
	}

	nonce, err := c.decryptCounter.Next()
	if err != nil {
		return nil, err
	}
	plaintext, err := c.decrypt.Open(nil, nonce, sealed, nil)
	if err != nil {
		if !c.authenticated {
			return nil, oops.Wrapf(ErrHandshakeCorrupted, "nonce %d", c.decryptCounter.Value()-1)
		}
		return nil, oops.Wrapf(ErrDecryption, "nonce %d", c.decryptCounter.Value()-1)
	}
	c.authenticated = true
	return plaintext, nil
}

// WriteFrame packs p and writes the frame in a single call.
func (c *Cipher) WriteFrame(w io.Writer, p []byte) error {
	frame, err := c.Pack(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return wrapRecordError(err, "writing frame")
	}
	return nil
}

// ReadFrame reads and opens one frame from r.
func (c *Cipher) ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, LengthSize+TagSize)
	if err := readFull(r, header); err != nil {
		return nil, err
	}
	lengthBytes, err := c.Unpack(header, LengthSize)
	if err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(lengthBytes))
	if length > MaxPayloadSize {
		log.WithField("length", length).Debug("peer declared oversized record")
		return nil, oops.Wrapf(ErrFrameTooLarge, "declared length %d", length)
	}

	body := make([]byte, length+TagSize)
	if err := readFull(r, body); err != nil {
		return nil, err
	}
	return c.Unpack(body, length)
}

func readFull(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && n == 0 {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return oops.Wrapf(ErrShortRead, "got %d of %d bytes", n, len(buf))
	}
	return wrapRecordError(err, "reading frame")
}
