package chaos

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/sha3"
)

// SeedSize is the length of the canonical seed encoding.
const SeedSize = 32

const seedDomain = "chaoscrypt/seed/v1"

// Seed holds the initial conditions of both maps: the logistic x0 as a 64-bit
// binary fraction and the Lorenz (x, y, z) in Q32.32.
// The zero value is invalid.
type Seed struct {
	logistic uint64
	lorenz   [3]q32
}

// NewSeed builds a seed from real-valued initial conditions.
// x0 must lie in the open interval (0,1) and every Lorenz coordinate in [-64, 64].
func NewSeed(x0 float64, lorenz [3]float64) (Seed, error) {
	if math.IsNaN(x0) || math.IsInf(x0, 0) || x0 <= 0 || x0 >= 1 {
		return Seed{}, fmt.Errorf("%w: logistic x0=%v outside (0,1)", ErrSeedValidation, x0)
	}

	var s Seed

	s.logistic = fracFromFloat(x0)

	for i, v := range lorenz {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxSeedCoord.float() {
			return Seed{}, fmt.Errorf("%w: Lorenz coordinate %d=%v outside [-64, 64]", ErrSeedValidation, i, v)
		}

		s.lorenz[i] = q32FromFloat(v)
	}

	if err := s.validate(); err != nil {
		return Seed{}, err
	}

	return s, nil
}

// SeedFromBytes decodes the canonical 32-byte encoding produced by Bytes.
func SeedFromBytes(b []byte) (Seed, error) {
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrSeedValidation, SeedSize, len(b))
	}

	var s Seed

	s.logistic = binary.BigEndian.Uint64(b)

	for i := range s.lorenz {
		s.lorenz[i] = q32(binary.BigEndian.Uint64(b[8*(i+1):])) //nolint:gosec // two's complement round trip
	}

	if err := s.validate(); err != nil {
		return Seed{}, err
	}

	return s, nil
}

// DeriveSeed expands key material and context into a seed with SHAKE256.
// Every part is length-prefixed, so distinct context tuples never collide.
// Lorenz coordinates land in [-20, 20), the range the attractor is entered from.
func DeriveSeed(key []byte, context ...[]byte) (Seed, error) {
	shake := sha3.NewShake256()

	writePart(shake, []byte(seedDomain))
	writePart(shake, key)

	for _, part := range context {
		writePart(shake, part)
	}

	var out [SeedSize]byte
	if _, err := shake.Read(out[:]); err != nil {
		return Seed{}, fmt.Errorf("expanding seed: %w", err)
	}

	const span = 40 << fracBits

	var s Seed

	s.logistic = binary.BigEndian.Uint64(out[:])

	for i := range s.lorenz {
		w := binary.BigEndian.Uint64(out[8*(i+1):])
		s.lorenz[i] = q32(w%span) - 20<<fracBits //nolint:gosec // w%span < 2^38
	}

	if err := s.validate(); err != nil {
		return Seed{}, err
	}

	return s, nil
}

func writePart(w io.Writer, part []byte) {
	var length [8]byte

	binary.BigEndian.PutUint64(length[:], uint64(len(part)))

	w.Write(length[:]) //nolint:errcheck // hash writes never fail
	w.Write(part)      //nolint:errcheck // hash writes never fail
}

// Bytes returns the canonical big-endian encoding: x0 followed by x, y, z.
func (s Seed) Bytes() []byte {
	b := make([]byte, SeedSize)

	binary.BigEndian.PutUint64(b, s.logistic)

	for i, v := range s.lorenz {
		binary.BigEndian.PutUint64(b[8*(i+1):], uint64(v)) //nolint:gosec // two's complement round trip
	}

	return b
}

// Logistic returns x0 as a real number.
func (s Seed) Logistic() float64 { return fracToFloat(s.logistic) }

// Lorenz returns the Lorenz initial state as real numbers.
func (s Seed) Lorenz() [3]float64 {
	return [3]float64{s.lorenz[0].float(), s.lorenz[1].float(), s.lorenz[2].float()}
}

// IsZero reports whether s is the (invalid) zero seed, e.g. after wiping.
func (s Seed) IsZero() bool {
	return s == Seed{}
}

func (s Seed) validate() error {
	if s.logistic == 0 {
		return fmt.Errorf("%w: logistic x0 is 0", ErrSeedValidation)
	}

	for i, v := range s.lorenz {
		if v > maxSeedCoord || v < -maxSeedCoord {
			return fmt.Errorf("%w: Lorenz coordinate %d outside [-64, 64]", ErrSeedValidation, i)
		}
	}

	// (0, 0, z) sits on the invariant z-axis and decays into the origin.
	if s.lorenz[0] == 0 && s.lorenz[1] == 0 {
		return fmt.Errorf("%w: Lorenz state on the z-axis", ErrSeedValidation)
	}

	return nil
}
