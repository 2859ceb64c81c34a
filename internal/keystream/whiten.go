package keystream

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// WindowSize is the number of raw bytes conditioned per hash invocation.
const WindowSize = 32

const whitenDomain = "chaoscrypt/whiten/v1"

// chain carries the conditioning state between windows.
type chain struct {
	prev  [32]byte
	index uint64
}

func newChain() chain {
	return chain{prev: sha3.Sum256([]byte(whitenDomain))}
}

// next conditions one window (at most WindowSize bytes) into dst, which must
// have the same length as window.
func (c *chain) next(dst, window []byte) {
	var idx [8]byte

	binary.BigEndian.PutUint64(idx[:], c.index)

	h := sha3.New256()
	h.Write(c.prev[:])
	h.Write(idx[:])
	h.Write(window)
	h.Sum(c.prev[:0])

	copy(dst, c.prev[:len(window)])

	c.index++
}

// Whiten conditions raw into a keystream of the same length.
// It is a pure function: equal inputs give equal outputs and raw is not modified.
func Whiten(raw []byte) []byte {
	out := make([]byte, len(raw))
	c := newChain()

	for off := 0; off < len(raw); off += WindowSize {
		end := min(off+WindowSize, len(raw))
		c.next(out[off:end], raw[off:end])
	}

	return out
}
