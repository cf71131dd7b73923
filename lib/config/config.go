package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/go-i2p/logger"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const (
	DARKSTAR_BASE_DIR = ".darkstar"
	EnvPrefix         = "DARKSTAR"
	configFileName    = "config.yaml"
)

// InitConfig loads .env, binds the environment, applies defaults and reads
// the config file, creating the default one if needed.
func InitConfig() error {
	if err := LoadDotEnv(".env"); err != nil {
		return err
	}

	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDarkStarDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	return handleConfigFile()
}

// LoadDotEnv loads path into the process environment. A missing file is
// not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Wrapf(err, "loading %s", path)
	}
	log.WithField("path", path).Debug("loaded environment file")
	return nil
}

func setDefaults() {
	d := Defaults()
	viper.SetDefault("mode", d.Mode)
	viper.SetDefault("working_dir", d.WorkingDir)
	viper.SetDefault("listen_address", d.ListenAddress)
	viper.SetDefault("server_address", d.ServerAddress)
	viper.SetDefault("server_public_key", d.ServerPublicKey)
	viper.SetDefault("server_private_key_file", d.ServerPrivateKeyFile)

	viper.SetDefault("bloom.path", d.Bloom.Path)
	viper.SetDefault("bloom.bits", d.Bloom.Bits)
	viper.SetDefault("bloom.hashes", d.Bloom.Hashes)

	viper.SetDefault("blackhole.timeout", d.BlackHole.Timeout)

	viper.SetDefault("listener.handshake_rate", d.Listener.HandshakeRate)
	viper.SetDefault("listener.handshake_burst", d.Listener.HandshakeBurst)
	viper.SetDefault("listener.handshake_timeout", d.Listener.HandshakeTimeout)
	viper.SetDefault("listener.max_connections", d.Listener.MaxConnections)
	viper.SetDefault("listener.blackhole_first_frame", d.Listener.BlackHoleFirstFrame)
}

// CurrentConfig reads the effective configuration from viper.
func CurrentConfig() Config {
	return Config{
		Mode:                 viper.GetString("mode"),
		WorkingDir:           viper.GetString("working_dir"),
		ListenAddress:        viper.GetString("listen_address"),
		ServerAddress:        viper.GetString("server_address"),
		ServerPublicKey:      viper.GetString("server_public_key"),
		ServerPrivateKeyFile: viper.GetString("server_private_key_file"),
		Bloom: BloomConfig{
			Path:   viper.GetString("bloom.path"),
			Bits:   viper.GetInt("bloom.bits"),
			Hashes: viper.GetInt("bloom.hashes"),
		},
		BlackHole: BlackHoleConfig{
			Timeout: viper.GetDuration("blackhole.timeout"),
		},
		Listener: ListenerConfig{
			HandshakeRate:       viper.GetFloat64("listener.handshake_rate"),
			HandshakeBurst:      viper.GetInt("listener.handshake_burst"),
			HandshakeTimeout:    viper.GetDuration("listener.handshake_timeout"),
			MaxConnections:      viper.GetInt("listener.max_connections"),
			BlackHoleFirstFrame: viper.GetBool("listener.blackhole_first_frame"),
		},
	}
}

// WriteConfigFile writes cfg as YAML to path with owner-only permissions.
func WriteConfigFile(path string, cfg Config) error {
	if err := util.EnsureDir(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return oops.Wrapf(err, "encoding config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Wrapf(err, "writing %s", path)
	}
	return nil
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, configFileName)
	if err := WriteConfigFile(defaultConfigFile, CurrentConfig()); err != nil {
		return err
	}
	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	switch {
	case CfgFile != "" && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)):
		return oops.Wrapf(err, "config file %s is not found", CfgFile)
	case errors.As(err, &notFound):
		return createDefaultConfig(BuildDarkStarDirPath())
	default:
		return oops.Wrapf(err, "reading config file")
	}
}

func BuildDarkStarDirPath() string {
	return filepath.Join(util.UserHome(), DARKSTAR_BASE_DIR)
}
