package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/logic"
)

// NewEncryptCommand creates a new cobra command for the encrypt subcommand.
func NewEncryptCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "encrypt [flags] SOURCE DESTINATION",
		Aliases: []string{"enc"},
		Short:   "Encrypt a file, or every file under a folder, into DESTINATION",
		Args:    cobra.ExactArgs(2), //nolint:mnd
		PreRunE: preRun(cfg, func(*config.Config) {}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if done, err := show(cmd, cfg); done {
				return err
			}

			return logic.Run(cmd.Context(), cfg)
		},
	}
}
