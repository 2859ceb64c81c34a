package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/logic"
)

// NewDecryptCommand creates a new cobra command for the decrypt subcommand.
func NewDecryptCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "decrypt [flags] SOURCE DESTINATION",
		Aliases: []string{"dec"},
		Short:   "Decrypt a record, or every record under a folder, into DESTINATION",
		Args:    cobra.ExactArgs(2), //nolint:mnd
		PreRunE: preRun(cfg, func(c *config.Config) { c.Decrypt = true }),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if done, err := show(cmd, cfg); done {
				return err
			}

			return logic.Run(cmd.Context(), cfg)
		},
	}
}
