package keys

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/idelchi/chaoscrypt/internal/chaos"
)

// HexBytes is a byte slice that encodes as a lowercase hex string.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (h HexBytes) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(out, h)

	return out, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexBytes) UnmarshalText(text []byte) error {
	out := make([]byte, hex.DecodedLen(len(text)))

	if _, err := hex.Decode(out, text); err != nil {
		return fmt.Errorf("decoding hex: %w", err)
	}

	*h = out

	return nil
}

// Artifact is the persisted form of key material, split into a public part
// that identifies it and a private part holding the seed.
type Artifact struct {
	PublicKey  PublicKey  `json:"public_key"`
	PrivateKey PrivateKey `json:"private_key"`
}

// PublicKey identifies key material without revealing it.
type PublicKey struct {
	KeyID        string   `json:"key_id"`
	Scheme       string   `json:"scheme"`
	Evolution    uint64   `json:"evolution"`
	SessionNonce HexBytes `json:"session_nonce"`
	Commitment   HexBytes `json:"commitment"`
}

// PrivateKey holds the seed either in the clear or sealed.
// The real-valued fields are informational and ignored when loading.
type PrivateKey struct {
	Seed       HexBytes  `json:"seed,omitempty"`
	LogisticX0 float64   `json:"logistic_x0,omitempty"`
	LorenzXYZ  []float64 `json:"lorenz_xyz,omitempty"`
	Sealed     *Sealed   `json:"sealed,omitempty"`
}

// Sealed is a seed encrypted by a Vault together with the Argon2id cost that was used.
type Sealed struct {
	Ciphertext HexBytes `json:"ciphertext"`
	Salt       HexBytes `json:"salt"`
	Time       uint32   `json:"time"`
	MemoryKiB  uint32   `json:"memory_kib"`
	Threads    uint8    `json:"threads"`
}

// NewArtifact exports m. With a non-nil vault the seed is sealed and only
// the public part stays readable.
func NewArtifact(m *Material, vault *Vault) (*Artifact, error) {
	seed, err := m.seedBytes()
	if err != nil {
		return nil, err
	}

	defer ZeroBytes(seed)

	commitment := m.Commitment()
	nonce := m.SessionNonce()

	artifact := &Artifact{
		PublicKey: PublicKey{
			KeyID:        hex.EncodeToString(commitment[:8]),
			Scheme:       m.Params().Scheme(),
			Evolution:    m.Counter(),
			SessionNonce: nonce[:],
			Commitment:   commitment[:],
		},
	}

	if vault != nil {
		sealed, err := vault.Seal(seed, []byte(artifact.PublicKey.KeyID))
		if err != nil {
			return nil, err
		}

		artifact.PrivateKey.Sealed = sealed

		return artifact, nil
	}

	decoded, err := chaos.SeedFromBytes(seed)
	if err != nil {
		return nil, err
	}

	lorenz := decoded.Lorenz()

	artifact.PrivateKey.Seed = append(HexBytes(nil), seed...)
	artifact.PrivateKey.LogisticX0 = decoded.Logistic()
	artifact.PrivateKey.LorenzXYZ = lorenz[:]

	return artifact, nil
}

// ParseArtifact decodes a JSON key artifact.
func ParseArtifact(data []byte) (*Artifact, error) {
	var artifact Artifact

	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return &artifact, nil
}

// Marshal encodes the artifact as indented JSON.
func (a *Artifact) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding key artifact: %w", err)
	}

	return append(data, '\n'), nil
}

// IsSealed reports whether the private seed is encrypted.
func (a *Artifact) IsSealed() bool {
	return a.PrivateKey.Sealed != nil
}

// Open reconstructs the key material and checks it against the public commitment.
// vault is only consulted for sealed artifacts.
func (a *Artifact) Open(vault *Vault) (*Material, error) {
	params, err := chaos.Lookup(a.PublicKey.Scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if len(a.PublicKey.SessionNonce) != NonceSize {
		return nil, fmt.Errorf("%w: session nonce must be %d bytes", ErrMalformed, NonceSize)
	}

	var raw []byte

	switch {
	case a.PrivateKey.Sealed != nil:
		if vault == nil {
			return nil, ErrPassphraseRequired
		}

		raw, err = vault.Open(a.PrivateKey.Sealed, []byte(a.PublicKey.KeyID))
		if err != nil {
			return nil, err
		}
	case len(a.PrivateKey.Seed) > 0:
		raw = append([]byte(nil), a.PrivateKey.Seed...)
	default:
		return nil, fmt.Errorf("%w: private key carries no seed", ErrMalformed)
	}

	defer ZeroBytes(raw)

	seed, err := chaos.SeedFromBytes(raw)
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte

	copy(nonce[:], a.PublicKey.SessionNonce)

	material, err := Restore(seed, nonce, a.PublicKey.Evolution, params)
	if err != nil {
		return nil, err
	}

	commitment := material.Commitment()
	if subtle.ConstantTimeCompare(commitment[:], a.PublicKey.Commitment) != 1 ||
		a.PublicKey.KeyID != hex.EncodeToString(commitment[:8]) {
		material.Wipe()

		return nil, fmt.Errorf("%w: commitment does not match private key", ErrMalformed)
	}

	return material, nil
}
