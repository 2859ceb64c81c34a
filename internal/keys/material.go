package keys

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/idelchi/chaoscrypt/internal/chaos"
)

const (
	// NonceSize is the length of the session nonce.
	NonceSize = 16
	// EntropySize is the number of fresh random bytes drawn per generation or evolution.
	EntropySize = 32

	// maxAttempts bounds regeneration when a derived seed is rejected.
	maxAttempts = 3

	commitDomain = "chaoscrypt/commit/v1"
)

// Material is the secret state all cipher inputs are derived from: one active
// seed, a session nonce and the evolution counter, under a fixed parameter set.
// Material is immutable; Evolve returns a successor and leaves the receiver intact.
// It is safe for concurrent use until Wipe is called.
type Material struct {
	mu      sync.RWMutex
	seed    chaos.Seed
	nonce   [NonceSize]byte
	counter uint64
	params  chaos.Params
	wiped   bool
}

// Generate creates fresh key material at evolution 0 from entropy.
func Generate(entropy io.Reader, params chaos.Params) (*Material, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(entropy, nonce[:]); err != nil {
		return nil, fmt.Errorf("reading session nonce: %w", err)
	}

	seed, err := retry(entropy, func(fresh []byte) (chaos.Seed, error) {
		return chaos.DeriveSeed(fresh, []byte("generate"), nonce[:])
	}, params)
	if err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}

	return &Material{seed: seed, nonce: nonce, params: params}, nil
}

// Restore rebuilds material from its persisted components.
func Restore(seed chaos.Seed, nonce [NonceSize]byte, counter uint64, params chaos.Params) (*Material, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := burnIn(seed, params); err != nil {
		return nil, err
	}

	return &Material{seed: seed, nonce: nonce, counter: counter, params: params}, nil
}

// Evolve derives the successor material at counter+1 from the current seed and
// fresh entropy. The session nonce and parameters carry over.
func (m *Material) Evolve(entropy io.Reader) (*Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.wiped {
		return nil, ErrWiped
	}

	next := m.counter + 1
	old := m.seed.Bytes()

	defer ZeroBytes(old)

	seed, err := retry(entropy, func(fresh []byte) (chaos.Seed, error) {
		return chaos.DeriveSeed(old, []byte("evolve"), be64(next), fresh)
	}, m.params)
	if err != nil {
		return nil, fmt.Errorf("evolving key material to %d: %w", next, err)
	}

	return &Material{seed: seed, nonce: m.nonce, counter: next, params: m.params}, nil
}

// Derive returns a seed bound to this material, its evolution counter and
// the given label and context. Distinct labels give independent keystreams.
func (m *Material) Derive(label string, context ...[]byte) (chaos.Seed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.wiped {
		return chaos.Seed{}, ErrWiped
	}

	key := m.seed.Bytes()
	defer ZeroBytes(key)

	parts := make([][]byte, 0, 3+len(context))
	parts = append(parts, []byte(label), be64(m.counter), m.nonce[:])
	parts = append(parts, context...)

	return chaos.DeriveSeed(key, parts...)
}

// Counter returns the evolution counter.
func (m *Material) Counter() uint64 { return m.counter }

// Params returns the parameter set the material is bound to.
func (m *Material) Params() chaos.Params { return m.params }

// SessionNonce returns the session nonce.
func (m *Material) SessionNonce() [NonceSize]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.nonce
}

// Commitment binds seed, session nonce and counter into a public digest,
// used to detect a key artifact that does not belong to its record.
func (m *Material) Commitment() [32]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seed := m.seed.Bytes()
	defer ZeroBytes(seed)

	h := sha3.New256()
	h.Write([]byte(commitDomain))
	h.Write(seed)
	h.Write(m.nonce[:])
	h.Write(be64(m.counter))

	var out [32]byte

	h.Sum(out[:0])

	return out
}

// KeyID is a short public identifier derived from the commitment.
func (m *Material) KeyID() string {
	c := m.Commitment()

	return hex.EncodeToString(c[:8])
}

// Wipe zeroes the secret state. Later calls to Derive or Evolve fail with ErrWiped.
func (m *Material) Wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seed = chaos.Seed{}
	ZeroBytes(m.nonce[:])
	m.wiped = true
}

// Wiped reports whether Wipe has been called.
func (m *Material) Wiped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.wiped
}

// seedBytes exposes the canonical seed encoding to the artifact encoder.
func (m *Material) seedBytes() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.wiped {
		return nil, ErrWiped
	}

	return m.seed.Bytes(), nil
}

// retry derives a seed from fresh entropy until it passes validation and a
// burn-in, at most maxAttempts times.
func retry(entropy io.Reader, derive func(fresh []byte) (chaos.Seed, error), params chaos.Params) (chaos.Seed, error) {
	fresh := make([]byte, EntropySize)
	defer ZeroBytes(fresh)

	var err error

	for range maxAttempts {
		if _, err := io.ReadFull(entropy, fresh); err != nil {
			return chaos.Seed{}, fmt.Errorf("reading entropy: %w", err)
		}

		var seed chaos.Seed

		seed, err = derive(fresh)
		if err == nil {
			err = burnIn(seed, params)
		}

		if err == nil {
			return seed, nil
		}

		if !errors.Is(err, chaos.ErrSeedValidation) && !errors.Is(err, chaos.ErrNumericInstability) {
			return chaos.Seed{}, err
		}
	}

	return chaos.Seed{}, fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// burnIn runs the burn-in once so unstable seeds are rejected before use.
func burnIn(seed chaos.Seed, params chaos.Params) error {
	_, err := chaos.New(seed, params)

	return err
}

func be64(v uint64) []byte {
	var b [8]byte

	binary.BigEndian.PutUint64(b[:], v)

	return b[:]
}
