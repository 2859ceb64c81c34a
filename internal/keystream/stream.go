package keystream

import (
	"fmt"

	"github.com/idelchi/chaoscrypt/internal/chaos"
)

// Stream produces whitened keystream bytes on demand from a chaotic generator.
// Whole windows are drawn from the generator, so any prefix read from a Stream
// equals Generate for the same seed, params and length.
type Stream struct {
	gen   *chaos.Generator
	chain chain
	raw   [WindowSize]byte
	buf   [WindowSize]byte
	pos   int
}

// NewStream starts a keystream for seed under params.
func NewStream(seed chaos.Seed, params chaos.Params) (*Stream, error) {
	gen, err := chaos.New(seed, params)
	if err != nil {
		return nil, err
	}

	return &Stream{gen: gen, chain: newChain(), pos: WindowSize}, nil
}

// Read fills p with keystream bytes. It only fails when the underlying
// generator becomes numerically unstable.
func (s *Stream) Read(p []byte) (int, error) {
	n := 0

	for n < len(p) {
		if s.pos == WindowSize {
			if err := s.gen.Fill(s.raw[:]); err != nil {
				return n, fmt.Errorf("keystream window %d: %w", s.chain.index, err)
			}

			s.chain.next(s.buf[:], s.raw[:])
			s.pos = 0
		}

		c := copy(p[n:], s.buf[s.pos:])
		s.pos += c
		n += c
	}

	return n, nil
}

// XOR writes src XOR keystream into dst, advancing the stream by len(src).
// dst and src may overlap entirely.
func (s *Stream) XOR(dst, src []byte) error {
	ks := make([]byte, len(src))
	if _, err := s.Read(ks); err != nil {
		return err
	}

	for i := range src {
		dst[i] = src[i] ^ ks[i]
	}

	return nil
}

// Generate returns the first n keystream bytes for seed under params.
func Generate(seed chaos.Seed, params chaos.Params, n int) ([]byte, error) {
	s, err := NewStream(seed, params)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	if _, err := s.Read(out); err != nil {
		return nil, err
	}

	return out, nil
}
