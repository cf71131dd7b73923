package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/go-i2p/go-darkstar/lib/transport"
	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// isolate points HOME at a temp dir and clears global viper state.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	viper.Reset()
	config.CfgFile = ""
	t.Cleanup(func() {
		viper.Reset()
		config.CfgFile = ""
	})
	return home
}

func serverConfig(dir string) config.Config {
	cfg := config.Defaults()
	cfg.WorkingDir = dir
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ServerAddress = ""
	cfg.ServerPrivateKeyFile = filepath.Join(dir, "server.key")
	cfg.Bloom.Path = filepath.Join(dir, "bloom.json")
	return cfg
}

// startServer runs a Server until the test ends.
func startServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	srv, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Serve did not return after Close")
		}
	})
	return srv
}

func TestServer_Echo(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, serverConfig(dir))

	key, err := keys.DecodePublicKey(srv.PublicKey())
	require.NoError(t, err)
	conn, err := transport.Dial(srv.Addr().String(), key)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))

	assert.FileExists(t, filepath.Join(dir, "server.key"))
	assert.FileExists(t, filepath.Join(dir, "server.pub"))
}

func TestServer_CloseEndsSessionsAndPersistsFilter(t *testing.T) {
	dir := t.TempDir()
	srv, err := NewServer(context.Background(), serverConfig(dir))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	key, err := keys.DecodePublicKey(srv.PublicKey())
	require.NoError(t, err)
	conn, err := transport.Dial(srv.Addr().String(), key)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage([]byte("x")))
	_, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}

	_, err = conn.ReadMessage()
	assert.Error(t, err, "session is closed with the server")
	assert.FileExists(t, filepath.Join(dir, "bloom.json"))
	assert.NoError(t, srv.Close(), "second Close is a no-op")
}

func TestServer_ReusesStoredKey(t *testing.T) {
	dir := t.TempDir()
	cfg := serverConfig(dir)

	first, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	pub := first.PublicKey()
	require.NoError(t, first.Close())

	second, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, pub, second.PublicKey())
}

func TestNewServer_RejectsInvalidConfig(t *testing.T) {
	cfg := serverConfig(t.TempDir())
	cfg.Bloom.Hashes = 0
	_, err := NewServer(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
}

func TestSplitKeyPath(t *testing.T) {
	dir, name := splitKeyPath(filepath.Join("etc", "darkstar", "edge.key"))
	assert.Equal(t, filepath.Join("etc", "darkstar"), dir)
	assert.Equal(t, "edge", name)
}

func TestKeygenCommand(t *testing.T) {
	isolate(t)
	out := t.TempDir()

	var buf bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"keygen", "--out", out, "--server-address", "192.0.2.7:443"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	pub := lines[len(lines)-1]
	_, err := keys.DecodePublicKey(pub)
	require.NoError(t, err)

	ks, err := keys.LoadStaticKeyStore(out, keys.DefaultKeyName)
	require.NoError(t, err)
	assert.Equal(t, pub, ks.PublicKeyHex())

	config.CfgFile = filepath.Join(out, clientConfigName)
	require.NoError(t, config.InitConfig())
	cfg := config.CurrentConfig()
	assert.Equal(t, config.ModeClient, cfg.Mode)
	assert.Equal(t, "192.0.2.7:443", cfg.ServerAddress)
	assert.Equal(t, pub, cfg.ServerPublicKey)
	assert.NoError(t, config.Validate(cfg))

	t.Run("refuses to overwrite", func(t *testing.T) {
		root := NewRootCommand()
		root.SetOut(io.Discard)
		root.SetArgs([]string{"keygen", "--out", out})
		assert.Error(t, root.Execute())

		again, err := keys.LoadStaticKeyStore(out, keys.DefaultKeyName)
		require.NoError(t, err)
		assert.Equal(t, pub, again.PublicKeyHex())
	})
}

func TestClientCommand(t *testing.T) {
	srv := startServer(t, serverConfig(t.TempDir()))
	isolate(t)

	var buf bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{
		"client",
		"--server", srv.Addr().String(),
		"--key", srv.PublicKey(),
		"--message", "over the wire",
	})
	require.NoError(t, root.Execute())
	assert.Equal(t, "over the wire\n", buf.String())
}

func TestClientCommand_WrongKeyFails(t *testing.T) {
	srv := startServer(t, serverConfig(t.TempDir()))
	isolate(t)

	other, err := keys.LoadOrGenerate(t.TempDir(), "other")
	require.NoError(t, err)

	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetArgs([]string{
		"client",
		"--server", srv.Addr().String(),
		"--key", other.PublicKeyHex(),
		"--timeout", "500ms",
	})
	assert.Error(t, root.Execute())
}

func TestServerCommand_StopsWithContext(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "node.key")

	var buf bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{
		"server",
		"--listen", "127.0.0.1:0",
		"--server-address", "",
		"--key-file", keyFile,
		"--bloom-path", filepath.Join(dir, "bloom.json"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return util.CheckFileExists(keyFile)
	}, waitFor, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("server command did not stop")
	}
	assert.Contains(t, buf.String(), "listening on 127.0.0.1:")
	assert.FileExists(t, filepath.Join(dir, "bloom.json"))
}
