package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/gogen/pkg/cobraext"
)

// NewRootCommand creates the root command with common configuration.
// Flags are shared by all subcommands and may also come from the environment or a config file.
func NewRootCommand(cfg *config.Config, version string) *cobra.Command {
	root := cobraext.NewDefaultRootCommand(version)

	root.Use = "chaoscrypt [flags] command [flags]"
	root.Short = "Chaos-based folder encryption"
	root.Long = `Encrypts folders or single files with a keystream drawn from coupled logistic and Lorenz systems.
Every file gets an authenticated record and a key file; the key can be sealed with a passphrase.
Flags can also be set as CHAOSCRYPT_<FLAG> environment variables or in chaoscrypt.yaml.`

	config.Flags(root.PersistentFlags())

	root.AddCommand(NewEncryptCommand(cfg), NewDecryptCommand(cfg), NewCheckCommand(cfg), NewAuditCommand(cfg))

	return root
}
