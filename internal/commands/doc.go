// Package commands provides the command-line interface for the chaoscrypt tool.
//
// It implements commands for:
//   - encryption of a folder
//   - decryption of a folder
//   - checking include/exclude patterns
//
// The package handles command-line parsing, configuration validation,
// and environment variable binding through cobra and viper.
package commands
