package keys

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerate_CreatesThenReloads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := LoadOrGenerate(dir, "")
	require.NoError(t, err)
	assert.FileExists(t, first.PrivateKeyPath())
	assert.FileExists(t, first.PublicKeyPath())
	assert.Equal(t, filepath.Join(dir, DefaultKeyName+".key"), first.PrivateKeyPath())

	second, err := LoadOrGenerate(dir, "")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKeyHex(), second.PublicKeyHex())
	assert.Equal(t, first.KeyID(), second.KeyID())

	pub, err := os.ReadFile(first.PublicKeyPath())
	require.NoError(t, err)
	assert.Equal(t, first.PublicKeyHex(), strings.TrimSpace(string(pub)))
}

func TestStoreKeys_PrivateFileIsOwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}
	pair, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)
	ks := NewStaticKeyStore(t.TempDir(), "node", pair)
	require.NoError(t, ks.StoreKeys())

	info, err := os.Stat(ks.PrivateKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadStaticKeyStore_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadStaticKeyStore(dir, "missing")
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.key"), []byte("not hex\n"), 0o600))
	_, err = LoadStaticKeyStore(dir, "bad")
	assert.ErrorIs(t, err, ErrInvalidKeyFile)

	_, err = LoadOrGenerate(dir, "bad")
	assert.ErrorIs(t, err, ErrInvalidKeyFile, "a corrupt key file is never replaced")
	data, err := os.ReadFile(filepath.Join(dir, "bad.key"))
	require.NoError(t, err)
	assert.Equal(t, "not hex\n", string(data))
}

func TestStaticKeyStore_KeyPairServesHandshake(t *testing.T) {
	ks, err := LoadOrGenerate(t.TempDir(), "")
	require.NoError(t, err)
	pair, err := ks.KeyPair()
	require.NoError(t, err)

	var agreement darkstar.KeyAgreement = pair
	assert.Equal(t, ks.PublicKeyHex(), EncodePublicKey(darkstar.CompactPublicKey(agreement.PublicKey())))

	_, err = NewStaticKeyStore(t.TempDir(), "", nil).KeyPair()
	assert.Error(t, err)
}

func TestDecodePublicKey(t *testing.T) {
	pair, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := DecodePublicKey("  " + EncodePublicKey(pair.Compact()) + "\n")
	require.NoError(t, err)
	assert.Equal(t, pair.Compact(), decoded)

	_, err = DecodePublicKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidPublic)

	_, err = DecodePublicKey(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrInvalidPublic)

	// X = 1 is not on P-256.
	notOnCurve := strings.Repeat("00", 31) + "01"
	_, err = DecodePublicKey(notOnCurve)
	assert.ErrorIs(t, err, darkstar.ErrMalformedPublicKey)
}
