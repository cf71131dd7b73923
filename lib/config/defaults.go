package config

import (
	"errors"
	"net"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/go-i2p/logger"
)

const (
	ModeServer = "server"
	ModeClient = "client"
)

// Config is the darkstar command's configuration.
type Config struct {
	// Mode selects which side this process runs: "server" or "client".
	Mode string

	// WorkingDir holds the static key and replay filter.
	// Default: $HOME/.darkstar
	WorkingDir string

	// ListenAddress is where the server accepts TCP connections.
	// Default: 0.0.0.0:1234
	ListenAddress string

	// ServerAddress is the server's public IPv4 host:port. Clients dial it and
	// both sides bind it into the handshake, so a server behind NAT must set
	// it to the address clients use. A server with an empty ServerAddress
	// uses its listening address, which must then be a specific IPv4 address.
	ServerAddress string

	// ServerPublicKey is the hex compact static key (client mode).
	ServerPublicKey string

	// ServerPrivateKeyFile is the static private key (server mode). It is
	// generated on first start when missing.
	// Default: $HOME/.darkstar/server.key
	ServerPrivateKeyFile string

	Bloom     BloomConfig
	BlackHole BlackHoleConfig
	Listener  ListenerConfig
}

// BloomConfig configures the replay filter. Bits and Hashes only apply when
// the file at Path is created.
type BloomConfig struct {
	// Default: $HOME/.darkstar/bloom.json
	Path string
	// Default: 512
	Bits int
	// Default: 3
	Hashes int
}

type BlackHoleConfig struct {
	// Timeout is how long a failed connection is kept alive.
	// Default: 30 seconds
	Timeout time.Duration
}

type ListenerConfig struct {
	// HandshakeRate is handshakes per second allowed from one source IP.
	// Zero disables the limit. Default: 4
	HandshakeRate float64
	// Default: 8
	HandshakeBurst int
	// Default: 10 seconds
	HandshakeTimeout time.Duration
	// MaxConnections caps concurrent sessions. Zero means unlimited.
	// Default: 1024
	MaxConnections int
	// BlackHoleFirstFrame diverts a session whose first record fails to
	// authenticate. Default: true
	BlackHoleFirstFrame bool
}

// Defaults returns a Config with every default set.
func Defaults() Config {
	workingDir := BuildDarkStarDirPath()
	return Config{
		Mode:                 ModeServer,
		WorkingDir:           workingDir,
		ListenAddress:        "0.0.0.0:1234",
		ServerAddress:        "127.0.0.1:1234",
		ServerPrivateKeyFile: filepath.Join(workingDir, keys.DefaultKeyName+".key"),
		Bloom: BloomConfig{
			Path:   filepath.Join(workingDir, "bloom.json"),
			Bits:   512,
			Hashes: 3,
		},
		BlackHole: BlackHoleConfig{
			Timeout: 30 * time.Second,
		},
		Listener: ListenerConfig{
			HandshakeRate:       4,
			HandshakeBurst:      8,
			HandshakeTimeout:    10 * time.Second,
			MaxConnections:      1024,
			BlackHoleFirstFrame: true,
		},
	}
}

// MarshalYAML writes durations as strings so the file stays hand-editable.
func (c Config) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"mode":                    c.Mode,
		"working_dir":             c.WorkingDir,
		"listen_address":          c.ListenAddress,
		"server_address":          c.ServerAddress,
		"server_public_key":       c.ServerPublicKey,
		"server_private_key_file": c.ServerPrivateKeyFile,
		"bloom": map[string]interface{}{
			"path":   c.Bloom.Path,
			"bits":   c.Bloom.Bits,
			"hashes": c.Bloom.Hashes,
		},
		"blackhole": map[string]interface{}{
			"timeout": c.BlackHole.Timeout.String(),
		},
		"listener": map[string]interface{}{
			"handshake_rate":        c.Listener.HandshakeRate,
			"handshake_burst":       c.Listener.HandshakeBurst,
			"handshake_timeout":     c.Listener.HandshakeTimeout.String(),
			"max_connections":       c.Listener.MaxConnections,
			"blackhole_first_frame": c.Listener.BlackHoleFirstFrame,
		},
	}, nil
}

// Validate checks cfg for the mode it selects.
func Validate(cfg Config) error {
	log.WithFields(logger.Fields{
		"at":   "Validate",
		"mode": cfg.Mode,
	}).Debug("validating configuration")

	var validators []func() error
	switch cfg.Mode {
	case ModeServer:
		validators = []func() error{
			func() error { return validateServer(cfg) },
			func() error { return validateBloom(cfg.Bloom) },
			func() error { return validateBlackHole(cfg.BlackHole) },
			func() error { return validateListener(cfg.Listener) },
		}
	case ModeClient:
		validators = []func() error{
			func() error { return validateClient(cfg) },
		}
	default:
		return newValidationError("mode must be \"server\" or \"client\", got \"" + cfg.Mode + "\"")
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	return nil
}

func validateServer(cfg Config) error {
	if cfg.ListenAddress == "" {
		return newValidationError("listen_address must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return newValidationError("listen_address must be host:port")
	}
	if cfg.ServerAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.ServerAddress); err != nil {
			return newValidationError("server_address must be host:port")
		}
	}
	if cfg.ServerPrivateKeyFile == "" {
		return newValidationError("server_private_key_file must not be empty")
	}
	return nil
}

func validateClient(cfg Config) error {
	if cfg.ServerAddress == "" {
		return newValidationError("server_address must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.ServerAddress); err != nil {
		return newValidationError("server_address must be host:port")
	}
	if cfg.ServerPublicKey == "" {
		return newValidationError("server_public_key must not be empty in client mode")
	}
	if _, err := keys.DecodePublicKey(cfg.ServerPublicKey); err != nil {
		return newValidationError("server_public_key is not a valid compact P-256 key")
	}
	return nil
}

func validateBloom(bloom BloomConfig) error {
	if bloom.Path == "" {
		return newValidationError("bloom.path must not be empty")
	}
	if bloom.Bits < 8 {
		return newValidationError("bloom.bits must be at least 8")
	}
	if bloom.Hashes < 1 {
		return newValidationError("bloom.hashes must be at least 1")
	}
	return nil
}

func validateBlackHole(bh BlackHoleConfig) error {
	if bh.Timeout < time.Second {
		return newValidationError("blackhole.timeout must be at least 1s")
	}
	return nil
}

func validateListener(l ListenerConfig) error {
	if l.HandshakeRate < 0 {
		return newValidationError("listener.handshake_rate must not be negative")
	}
	if l.HandshakeRate > 0 && l.HandshakeBurst < 1 {
		return newValidationError("listener.handshake_burst must be at least 1 when rate limiting")
	}
	if l.HandshakeTimeout <= 0 {
		return newValidationError("listener.handshake_timeout must be positive")
	}
	if l.MaxConnections < 0 {
		return newValidationError("listener.max_connections must not be negative")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}
