// Package config holds the command-line configuration and its validation.
package config

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"

	"github.com/idelchi/gogen/pkg/validator"
)

// Config holds the settings shared by all commands.
type Config struct {
	// Common flags
	Parallel int `label:"--parallel"  validate:"gte=1"`
	Quiet    bool
	Stats    bool
	Show     bool
	LogLevel string `label:"--log-level" mapstructure:"log-level" validate:"oneof=trace debug info warn error"`

	// Batch flags
	KeyMode            string `label:"--key-mode"   mapstructure:"key-mode"   validate:"oneof=per-file shared"`
	Include            []string
	Exclude            []string
	IncludeFrom        string  `label:"--include-from" mapstructure:"include-from" validate:"omitempty,file"`
	ExcludeFrom        string  `label:"--exclude-from" mapstructure:"exclude-from" validate:"omitempty,file"`
	PreserveTimestamps bool    `mapstructure:"preserve-timestamps"`
	RecordExt          string  `label:"--record-ext" mapstructure:"record-ext" validate:"required,startswith=.,nefield=KeyExt"`
	KeyExt             string  `label:"--key-ext"    mapstructure:"key-ext"    validate:"required,startswith=."`
	MinFreeGB          float64 `label:"--min-free-gb" mapstructure:"min-free-gb" validate:"gte=0"`

	// AuditLog is the hash-chained log every processed file is appended to.
	AuditLog string `label:"--audit-log" mapstructure:"audit-log"`

	// Passphrase for sealing private keys, from the environment or a prompt
	Passphrase       string `mapstructure:"passphrase"`
	PassphrasePrompt bool   `label:"--passphrase-prompt" mapstructure:"passphrase-prompt" validate:"exclusive=Passphrase"`

	// Positional arguments
	Source      string `label:"SOURCE"      mapstructure:"-" validate:"required"`
	Destination string `label:"DESTINATION" mapstructure:"-" validate:"required_without_all=Check Audit"`

	// Command-specific
	Decrypt bool `mapstructure:"-"`
	Check   bool `mapstructure:"-"`
	Audit   bool `mapstructure:"-"`
}

// Validate validates the configuration against the struct tags.
func (c *Config) Validate() error {
	validator := validator.NewValidator()

	if err := registerExclusive(validator); err != nil {
		return fmt.Errorf("registering exclusive: %w", err)
	}

	errs := validator.Validate(c)

	switch {
	case len(errs) == 0:
		return nil
	case len(errs) == 1:
		return fmt.Errorf("validating configuration: %w", errs[0])
	default:
		return fmt.Errorf("validating configuration:\n%w", errors.Join(errs...))
	}
}

// MinFreeBytes converts the --min-free-gb threshold to bytes.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.MinFreeGB * humanize.GiByte)
}

// Render returns the configuration as YAML with the passphrase masked.
func (c Config) Render() ([]byte, error) {
	if c.Passphrase != "" {
		c.Passphrase = "<redacted>"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}

	return data, nil
}
