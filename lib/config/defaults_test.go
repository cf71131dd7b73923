package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ModeServer, cfg.Mode)
	assert.True(t, filepath.IsAbs(cfg.WorkingDir))
	assert.Equal(t, filepath.Join(cfg.WorkingDir, "bloom.json"), cfg.Bloom.Path)
	assert.Equal(t, 512, cfg.Bloom.Bits)
	assert.Equal(t, 3, cfg.Bloom.Hashes)
	assert.Equal(t, 30*time.Second, cfg.BlackHole.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Listener.HandshakeTimeout)
	assert.True(t, cfg.Listener.BlackHoleFirstFrame)
	assert.NoError(t, Validate(cfg))
}

func validClient(t *testing.T) Config {
	t.Helper()
	pair, err := darkstar.GenerateKeyPair()
	require.NoError(t, err)
	cfg := Defaults()
	cfg.Mode = ModeClient
	cfg.ServerAddress = "198.51.100.4:443"
	cfg.ServerPublicKey = keys.EncodePublicKey(pair.Compact())
	return cfg
}

func TestValidate_Client(t *testing.T) {
	require.NoError(t, Validate(validClient(t)))

	cases := map[string]func(*Config){
		"empty address": func(c *Config) { c.ServerAddress = "" },
		"missing port":  func(c *Config) { c.ServerAddress = "198.51.100.4" },
		"missing key":   func(c *Config) { c.ServerPublicKey = "" },
		"short key":     func(c *Config) { c.ServerPublicKey = "abcd" },
		"unknown mode":  func(c *Config) { c.Mode = "relay" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validClient(t)
			mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidate_Server(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen address": func(c *Config) { c.ListenAddress = "" },
		"bad server address":   func(c *Config) { c.ServerAddress = "no-port" },
		"no key file":          func(c *Config) { c.ServerPrivateKeyFile = "" },
		"tiny filter":          func(c *Config) { c.Bloom.Bits = 4 },
		"no hashes":            func(c *Config) { c.Bloom.Hashes = 0 },
		"short black hole":     func(c *Config) { c.BlackHole.Timeout = 500 * time.Millisecond },
		"negative rate":        func(c *Config) { c.Listener.HandshakeRate = -1 },
		"rate without burst":   func(c *Config) { c.Listener.HandshakeBurst = 0 },
		"no handshake timeout": func(c *Config) { c.Listener.HandshakeTimeout = 0 },
		"negative max conns":   func(c *Config) { c.Listener.MaxConnections = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}

	cfg := Defaults()
	cfg.Listener.HandshakeRate = 0
	cfg.Listener.HandshakeBurst = 0
	assert.NoError(t, Validate(cfg), "burst is ignored when rate limiting is off")
}
