package encryption

import (
	"fmt"

	"github.com/idelchi/chaoscrypt/internal/keys"
	"github.com/idelchi/chaoscrypt/internal/keystream"
)

// SBox is a key-dependent permutation of the byte values.
// Position i of a message is masked with At(i).
type SBox [256]byte

// NewSBox shuffles the identity permutation with Fisher-Yates, drawing indices
// from the material's "sbox" keystream by rejection sampling.
func NewSBox(km *keys.Material) (*SBox, error) {
	seed, err := km.Derive("sbox")
	if err != nil {
		return nil, fmt.Errorf("deriving S-box seed: %w", err)
	}

	stream, err := keystream.NewStream(seed, km.Params())
	if err != nil {
		return nil, fmt.Errorf("S-box keystream: %w", err)
	}

	var box SBox

	for i := range box {
		box[i] = byte(i)
	}

	var b [1]byte

	for i := len(box) - 1; i > 0; i-- {
		n := i + 1
		limit := 256 - 256%n

		for {
			if _, err := stream.Read(b[:]); err != nil {
				return nil, fmt.Errorf("S-box keystream: %w", err)
			}

			if int(b[0]) < limit {
				break
			}
		}

		j := int(b[0]) % n
		box[i], box[j] = box[j], box[i]
	}

	return &box, nil
}

// At returns the mask for message position i.
func (s *SBox) At(i int) byte {
	return s[i&0xff]
}
