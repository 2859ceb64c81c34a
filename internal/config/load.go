package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. CHAOSCRYPT_PARALLEL.
	EnvPrefix = "CHAOSCRYPT"
	// FileName is the configuration file looked up in the working directory.
	FileName = "chaoscrypt"
)

// Flags registers the configuration flags shared by all commands.
func Flags(flags *pflag.FlagSet) {
	flags.IntP("parallel", "j", runtime.NumCPU(), "Number of parallel workers, defaults to number of CPUs")
	flags.BoolP("show", "s", false, "Show the configuration and exit")
	flags.BoolP("quiet", "q", false, "Suppress non-error output")
	flags.Bool("stats", false, "Print statistics after the run")
	flags.String("log-level", "warn", "Log level: trace, debug, info, warn or error")
	flags.StringP("config", "c", "", "Path to a configuration file (default ./chaoscrypt.yaml)")

	flags.String("key-mode", "per-file", "Key mode: per-file or shared")
	flags.StringSliceP("include", "i", nil, "Only process files matching these patterns (find -path syntax)")
	flags.StringSliceP("exclude", "e", nil, "Skip files matching these patterns (find -path syntax)")
	flags.String("include-from", "", "Read include patterns from a JSONC file")
	flags.String("exclude-from", "", "Read exclude patterns from a JSONC file")
	flags.Bool("preserve-timestamps", false, "Copy source modification times onto outputs")
	flags.String("record-ext", ".encrypted", "Suffix of encrypted records")
	flags.String("key-ext", ".keys", "Suffix of key files")
	flags.Float64("min-free-gb", 0, "Refuse to start with less free space (GiB) at the destination")

	flags.String("audit-log", "", "Append every processed file to this hash-chained audit log")

	flags.BoolP("passphrase-prompt", "p", false, "Prompt for a passphrase to seal private keys")
}

// Load merges, in increasing precedence, defaults, the configuration file,
// CHAOSCRYPT_* environment variables and explicitly set flags.
func Load(fsys afero.Fs, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetFs(fsys)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	// Not a flag, so it never ends up in shell history.
	if err := v.BindEnv("passphrase"); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	explicit := v.GetString("config")

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if explicit == "" && errors.As(err, &notFound) {
		return nil
	}

	return fmt.Errorf("reading configuration file: %w", err)
}
