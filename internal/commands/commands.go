package commands

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/gogen/pkg/cobraext"
)

// preRun returns a PreRunE handler that loads the configuration, applies the
// positional arguments and validates the result. The passphrase prompt runs last.
func preRun(cfg *config.Config, apply func(*config.Config)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(afero.NewOsFs(), cmd.Flags())
		if err != nil {
			return err
		}

		*cfg = *loaded

		cfg.Source = args[0]
		if len(args) > 1 {
			cfg.Destination = args[1]
		}

		apply(cfg)

		if err := cobraext.Validate(cfg, cfg); err != nil {
			return err
		}

		if cfg.PassphrasePrompt && !cfg.Show {
			passphrase, err := promptPassphrase(cmd, !cfg.Decrypt)
			if err != nil {
				return err
			}

			cfg.Passphrase = passphrase
		}

		return nil
	}
}

// show prints the configuration. It reports whether the command should stop.
func show(cmd *cobra.Command, cfg *config.Config) (bool, error) {
	if !cfg.Show {
		return false, nil
	}

	data, err := cfg.Render()
	if err != nil {
		return true, err
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))

	return true, nil
}
