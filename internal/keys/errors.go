package keys

import "errors"

var (
	// ErrMalformed is returned for key artifacts that cannot be parsed or whose commitment does not match.
	ErrMalformed = errors.New("malformed key artifact")
	// ErrWiped is returned when key material is used after Wipe.
	ErrWiped = errors.New("key material has been wiped")
	// ErrUnseal is returned when a sealed private key cannot be opened, e.g. with a wrong passphrase.
	ErrUnseal = errors.New("unsealing private key failed")
	// ErrPassphraseRequired is returned when a sealed artifact is opened without a vault.
	ErrPassphraseRequired = errors.New("private key is sealed, passphrase required")
)
