// Package config provides configuration management for the darkstar command.
//
// # Sources
//
// Values are layered by viper, highest precedence first:
//   - command-line flags bound by the CLI
//   - environment variables prefixed with DARKSTAR_, with dots in key names
//     replaced by underscores (DARKSTAR_BLOOM_PATH sets bloom.path)
//   - a .env file in the working directory, loaded into the environment
//   - the YAML config file, $HOME/.darkstar/config.yaml unless --config is given
//   - the defaults in Defaults()
//
// A missing default config file is created from the defaults on first run. A
// missing file named explicitly with --config is an error.
//
// # Working Directory
//
// WorkingDir ($HOME/.darkstar by default) holds mutable server state: the
// static private key and the persisted replay filter. Both paths can be moved
// individually with server_private_key_file and bloom.path.
package config
