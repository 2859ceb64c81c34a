package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/idelchi/chaoscrypt/internal/keys"
)

// promptPassphrase reads a passphrase from the terminal without echo,
// asking twice when confirm is set.
func promptPassphrase(cmd *cobra.Command, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int

	if !term.IsTerminal(fd) {
		return "", errors.New("--passphrase-prompt needs an interactive terminal, set CHAOSCRYPT_PASSPHRASE instead")
	}

	read := func(prompt string) ([]byte, error) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		defer fmt.Fprintln(cmd.ErrOrStderr())

		pass, err := term.ReadPassword(fd)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}

		return pass, nil
	}

	pass, err := read("Passphrase: ")
	if err != nil {
		return "", err
	}

	defer keys.ZeroBytes(pass)

	if len(pass) == 0 {
		return "", keys.ErrPassphraseRequired
	}

	if confirm {
		again, err := read("Repeat passphrase: ")
		if err != nil {
			return "", err
		}

		defer keys.ZeroBytes(again)

		if !bytes.Equal(pass, again) {
			return "", errors.New("passphrases do not match")
		}
	}

	return string(pass), nil
}
