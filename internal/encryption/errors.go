package encryption

import "errors"

var (
	// ErrAuthentication is returned when a tag does not verify. No plaintext is produced.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNonceSize is returned for nonces that are not NonceSize bytes.
	ErrNonceSize = errors.New("invalid nonce size")
	// ErrNonceReuse is returned when a Sealer cannot obtain an unused nonce.
	ErrNonceReuse = errors.New("nonce reuse")
	// ErrHeader indicates a malformed or unsupported ciphertext header.
	ErrHeader = errors.New("invalid ciphertext header")
)
