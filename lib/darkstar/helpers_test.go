package darkstar

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStream replays scripted input and records everything written.
type memStream struct {
	in  io.Reader
	out bytes.Buffer
}

func newMemStream(input []byte) *memStream {
	return &memStream{in: bytes.NewReader(input)}
}

func (s *memStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *memStream) Write(p []byte) (int, error) { return s.out.Write(p) }

// mapGuard is an exact ReplayGuard for tests.
type mapGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMapGuard() *mapGuard {
	return &mapGuard{seen: make(map[string]bool)}
}

func (g *mapGuard) CheckAndInsert(key []byte) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[string(key)] {
		return true, nil
	}
	g.seen[string(key)] = true
	return false, nil
}

func testIdentifier(t *testing.T) ServerIdentifier {
	t.Helper()
	id, err := ParseServerIdentifier("127.0.0.1:1234")
	require.NoError(t, err)
	return id
}

// clientHello builds the first client message by hand so tests can tamper with it.
func clientHello(t *testing.T, serverStatic *KeyPair, id ServerIdentifier) []byte {
	t.Helper()
	ephemeral, err := GenerateKeyPair()
	require.NoError(t, err)
	secret, err := ephemeral.ECDH(serverStatic.PublicKey())
	require.NoError(t, err)
	code := GenerateConfirmationCode(RoleClient, secret, id, serverStatic.Compact(), ephemeral.Compact())
	return append(ephemeral.Compact(), code...)
}
