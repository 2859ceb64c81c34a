package logic

import (
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/idelchi/chaoscrypt/internal/audit"
	"github.com/idelchi/chaoscrypt/internal/config"
)

// RunAudit verifies the hash chain of the audit log named by cfg.Source.
func RunAudit(w io.Writer, cfg *config.Config) error {
	file, err := afero.NewOsFs().Open(cfg.Source)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	defer file.Close() //nolint:errcheck // read only

	chain, err := audit.Verify(file)
	if err != nil {
		return err
	}

	if !cfg.Quiet {
		fmt.Fprintf(w, "%d entries verified, head %s\n", chain.Len, chain.Head)
	}

	return nil
}
