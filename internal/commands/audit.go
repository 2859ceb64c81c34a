package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/logic"
)

// NewAuditCommand creates a new cobra command for the audit subcommand.
func NewAuditCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "audit [flags] LOG",
		Short:   "Verify the hash chain of an audit log",
		Args:    cobra.ExactArgs(1),
		PreRunE: preRun(cfg, func(c *config.Config) { c.Audit = true }),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if done, err := show(cmd, cfg); done {
				return err
			}

			return logic.RunAudit(cmd.OutOrStdout(), cfg)
		},
	}
}
