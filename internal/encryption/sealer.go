package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

const maxSealAttempts = 3

// Sealed is one encrypted message with everything needed to open it except the key material.
type Sealed struct {
	Header     []byte
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Sealer encrypts many messages under one key material, choosing a fresh
// random nonce per message and refusing to issue any nonce twice.
// It is safe for concurrent use.
type Sealer struct {
	km   *keys.Material
	box  *SBox
	rand io.Reader

	mu     sync.Mutex
	issued map[[NonceSize]byte]struct{}
}

// NewSealer binds a Sealer to km. A nil entropy source means crypto/rand.
func NewSealer(km *keys.Material, entropy io.Reader) (*Sealer, error) {
	if entropy == nil {
		entropy = rand.Reader
	}

	box, err := NewSBox(km)
	if err != nil {
		return nil, err
	}

	return &Sealer{
		km:     km,
		box:    box,
		rand:   entropy,
		issued: make(map[[NonceSize]byte]struct{}),
	}, nil
}

// Material returns the bound key material.
func (s *Sealer) Material() *keys.Material { return s.km }

// Seal encrypts plaintext under a nonce that this Sealer has never issued.
// A nonce whose derived seed is rejected or unstable is discarded and
// replaced, up to three attempts in total.
func (s *Sealer) Seal(plaintext []byte) (*Sealed, error) {
	var err error

	for range maxSealAttempts {
		var nonce [NonceSize]byte

		nonce, err = s.nextNonce()
		if err != nil {
			if errors.Is(err, ErrNonceReuse) {
				continue
			}

			return nil, err
		}

		var ciphertext, tag []byte

		ciphertext, tag, err = encrypt(plaintext, s.km, nonce[:], s.box)
		if err == nil {
			return &Sealed{
				Header:     HeaderFor(s.km).Marshal(),
				Nonce:      nonce[:],
				Ciphertext: ciphertext,
				Tag:        tag,
			}, nil
		}

		if !errors.Is(err, chaos.ErrSeedValidation) && !errors.Is(err, chaos.ErrNumericInstability) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("sealing after %d attempts: %w", maxSealAttempts, err)
}

// Open verifies and decrypts a message sealed under the same material.
func (s *Sealer) Open(ciphertext, tag, nonce []byte) ([]byte, error) {
	return decrypt(ciphertext, tag, s.km, nonce, s.box)
}

func (s *Sealer) nextNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nonce, fmt.Errorf("generating nonce: %w", err)
	}

	if _, seen := s.issued[nonce]; seen {
		return nonce, fmt.Errorf("%w: nonce %x already issued", ErrNonceReuse, nonce)
	}

	s.issued[nonce] = struct{}{}

	return nonce, nil
}
