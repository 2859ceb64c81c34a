package encryption

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/idelchi/chaoscrypt/internal/keys"
)

const (
	envelopeMagic   = "CHSC"
	envelopeVersion = byte(1)

	// HeaderSize is the length of the authenticated header.
	HeaderSize = len(envelopeMagic) + 2 + 8
)

// Header identifies the format and the key material a ciphertext was produced under.
// It is covered by the tag, so a ciphertext only verifies against material with
// the same parameter set and evolution counter.
type Header struct {
	ParamsVersion uint8
	Evolution     uint64
}

// HeaderFor returns the header for ciphertexts under km.
func HeaderFor(km *keys.Material) Header {
	return Header{ParamsVersion: km.Params().Version(), Evolution: km.Counter()}
}

// Marshal encodes the header: magic, envelope version, params version, big-endian evolution.
func (h Header) Marshal() []byte {
	header := make([]byte, HeaderSize)
	copy(header, envelopeMagic)

	header[len(envelopeMagic)] = envelopeVersion
	header[len(envelopeMagic)+1] = h.ParamsVersion

	binary.BigEndian.PutUint64(header[len(envelopeMagic)+2:], h.Evolution)

	return header
}

// ParseHeader decodes a header produced by Marshal.
func ParseHeader(header []byte) (Header, error) {
	if len(header) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header must be %d bytes, got %d", ErrHeader, HeaderSize, len(header))
	}

	if !bytes.Equal(header[:len(envelopeMagic)], []byte(envelopeMagic)) {
		return Header{}, fmt.Errorf("%w: invalid magic", ErrHeader)
	}

	if version := header[len(envelopeMagic)]; version != envelopeVersion {
		return Header{}, fmt.Errorf("%w: unsupported envelope version %d", ErrHeader, version)
	}

	return Header{
		ParamsVersion: header[len(envelopeMagic)+1],
		Evolution:     binary.BigEndian.Uint64(header[len(envelopeMagic)+2:]),
	}, nil
}
