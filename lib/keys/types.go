package keys

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultKeyName is the base file name of the server's static key pair.
const DefaultKeyName = "server"

// KeyStore is an interface for storing and retrieving keys
type KeyStore interface {
	KeyID() string
	// KeyPair returns the static key pair
	KeyPair() (*darkstar.KeyPair, error)
	// StoreKeys stores the keys
	StoreKeys() error
}

// StaticKeyStore keeps a server static key pair as two hex files:
// <name>.key holds the private scalar (0600) and <name>.pub the compact
// public key that clients are given.
type StaticKeyStore struct {
	dir  string
	name string
	pair *darkstar.KeyPair
}

var _ KeyStore = (*StaticKeyStore)(nil)

func NewStaticKeyStore(dir, name string, pair *darkstar.KeyPair) *StaticKeyStore {
	if name == "" {
		name = DefaultKeyName
	}
	log.WithFields(logger.Fields{
		"at":   "NewStaticKeyStore",
		"dir":  dir,
		"name": name,
	}).Debug("Creating static key store")
	return &StaticKeyStore{
		dir:  dir,
		name: name,
		pair: pair,
	}
}

// KeyID is the first eight bytes of the public key in hex.
func (ks *StaticKeyStore) KeyID() string {
	if ks.pair == nil {
		return ks.name
	}
	return hex.EncodeToString(ks.pair.Compact()[:8])
}

func (ks *StaticKeyStore) KeyPair() (*darkstar.KeyPair, error) {
	if ks.pair == nil {
		return nil, oops.Errorf("key store %s holds no key pair", ks.name)
	}
	return ks.pair, nil
}

// PublicKeyHex returns the value clients configure as the server public key.
func (ks *StaticKeyStore) PublicKeyHex() string {
	if ks.pair == nil {
		return ""
	}
	return EncodePublicKey(ks.pair.Compact())
}

func (ks *StaticKeyStore) PrivateKeyPath() string {
	return filepath.Join(ks.dir, ks.name+".key")
}

func (ks *StaticKeyStore) PublicKeyPath() string {
	return filepath.Join(ks.dir, ks.name+".pub")
}

func (ks *StaticKeyStore) StoreKeys() error {
	if ks.pair == nil {
		return oops.Errorf("key store %s holds no key pair", ks.name)
	}
	log.WithFields(logger.Fields{
		"at":  "(StaticKeyStore) StoreKeys",
		"dir": ks.dir,
	}).Debug("Storing keys to filesystem")

	// Use 0700 to protect private key material from other users
	if err := util.EnsureDir(ks.dir, 0o700); err != nil {
		log.WithError(err).WithField("dir", ks.dir).Error("Failed to create keystore directory")
		return err
	}
	private := hex.EncodeToString(ks.pair.Bytes()) + "\n"
	if err := os.WriteFile(ks.PrivateKeyPath(), []byte(private), 0o600); err != nil {
		log.WithError(err).WithField("path", ks.PrivateKeyPath()).Error("Failed to write private key file")
		return oops.Wrapf(err, "writing private key")
	}
	if err := os.WriteFile(ks.PublicKeyPath(), []byte(ks.PublicKeyHex()+"\n"), 0o644); err != nil {
		return oops.Wrapf(err, "writing public key")
	}
	log.WithFields(logger.Fields{
		"path":   ks.PrivateKeyPath(),
		"key_id": ks.KeyID(),
	}).Info("Successfully stored static key pair")
	return nil
}

// LoadStaticKeyStore reads <dir>/<name>.key. The public key file is
// regenerated from the private scalar and is not read.
func LoadStaticKeyStore(dir, name string) (*StaticKeyStore, error) {
	ks := NewStaticKeyStore(dir, name, nil)
	data, err := os.ReadFile(ks.PrivateKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oops.Wrapf(ErrKeyNotFound, "%s", ks.PrivateKeyPath())
		}
		return nil, oops.Wrapf(err, "reading private key")
	}
	scalar, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidKeyFile, "%s: %v", ks.PrivateKeyPath(), err)
	}
	pair, err := darkstar.NewKeyPairFromBytes(scalar)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidKeyFile, "%s: %v", ks.PrivateKeyPath(), err)
	}
	ks.pair = pair
	return ks, nil
}

// LoadOrGenerate loads the key pair from dir, generating and storing a new
// one if none exists. A file that exists but cannot be parsed is an error
// and is never overwritten.
func LoadOrGenerate(dir, name string) (*StaticKeyStore, error) {
	ks, err := LoadStaticKeyStore(dir, name)
	if err == nil {
		return ks, nil
	}
	if !IsKeyNotFound(err) {
		return nil, err
	}

	pair, err := darkstar.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	ks = NewStaticKeyStore(dir, name, pair)
	if err := ks.StoreKeys(); err != nil {
		return nil, err
	}
	return ks, nil
}
