package encryption

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/idelchi/chaoscrypt/internal/keys"
	"github.com/idelchi/chaoscrypt/internal/keystream"
)

const (
	// TagSize is the length of an authentication tag.
	TagSize = blake2b.Size256

	// MACAlgorithm names the tag construction in persisted records.
	MACAlgorithm = "blake2b-256-keyed"

	macKeySize = 64
)

// computeTag authenticates header, nonce, length and ciphertext under a key
// drawn from the material's "mac" keystream for this nonce.
func computeTag(km *keys.Material, nonce, header, ciphertext []byte) ([]byte, error) {
	seed, err := km.Derive("mac", nonce)
	if err != nil {
		return nil, fmt.Errorf("deriving MAC seed: %w", err)
	}

	key, err := keystream.Generate(seed, km.Params(), macKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating MAC key: %w", err)
	}

	defer keys.ZeroBytes(key)

	mac, err := blake2b.New256(key)
	if err != nil {
		return nil, fmt.Errorf("creating MAC: %w", err)
	}

	var length [8]byte

	binary.BigEndian.PutUint64(length[:], uint64(len(ciphertext)))

	mac.Write(header)
	mac.Write(nonce)
	mac.Write(length[:])
	mac.Write(ciphertext)

	return mac.Sum(nil), nil
}
