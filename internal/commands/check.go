package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/logic"
)

// NewCheckCommand creates a new cobra command for the check subcommand.
func NewCheckCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "check [flags] SOURCE",
		Short:   "Validate that include/exclude patterns match files",
		Args:    cobra.ExactArgs(1),
		PreRunE: preRun(cfg, func(c *config.Config) { c.Check = true }),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if done, err := show(cmd, cfg); done {
				return err
			}

			return logic.RunCheck(cfg)
		},
	}
}
