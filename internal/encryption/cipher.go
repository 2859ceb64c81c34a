package encryption

import (
	"crypto/subtle"
	"fmt"

	"github.com/idelchi/chaoscrypt/internal/keys"
	"github.com/idelchi/chaoscrypt/internal/keystream"
)

// NonceSize is the length of a per-message nonce.
const NonceSize = 16

// Keystream returns the first n bytes of the whitened keystream for (km, nonce).
func Keystream(km *keys.Material, nonce []byte, n int) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrNonceSize, NonceSize, len(nonce))
	}

	seed, err := km.Derive("stream", nonce)
	if err != nil {
		return nil, fmt.Errorf("deriving keystream seed: %w", err)
	}

	return keystream.Generate(seed, km.Params(), n)
}

// Encrypt returns ciphertext[i] = plaintext[i] ^ keystream[i] ^ sbox.At(i) and
// the tag over the header, nonce and ciphertext.
func Encrypt(plaintext []byte, km *keys.Material, nonce []byte) (ciphertext, tag []byte, err error) {
	box, err := NewSBox(km)
	if err != nil {
		return nil, nil, err
	}

	return encrypt(plaintext, km, nonce, box)
}

// Decrypt verifies tag and only then inverts Encrypt.
func Decrypt(ciphertext, tag []byte, km *keys.Material, nonce []byte) ([]byte, error) {
	return decrypt(ciphertext, tag, km, nonce, nil)
}

func encrypt(plaintext []byte, km *keys.Material, nonce []byte, box *SBox) ([]byte, []byte, error) {
	ks, err := Keystream(km, nonce, len(plaintext))
	if err != nil {
		return nil, nil, err
	}

	defer keys.ZeroBytes(ks)

	ciphertext := make([]byte, len(plaintext))
	for i, p := range plaintext {
		ciphertext[i] = p ^ ks[i] ^ box.At(i)
	}

	tag, err := computeTag(km, nonce, HeaderFor(km).Marshal(), ciphertext)
	if err != nil {
		return nil, nil, err
	}

	return ciphertext, tag, nil
}

// decrypt builds the S-box only after the tag verified, unless the caller supplies a cached one.
func decrypt(ciphertext, tag []byte, km *keys.Material, nonce []byte, box *SBox) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrNonceSize, NonceSize, len(nonce))
	}

	expected, err := computeTag(km, nonce, HeaderFor(km).Marshal(), ciphertext)
	if err != nil {
		return nil, err
	}

	if len(tag) != TagSize || subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, ErrAuthentication
	}

	if box == nil {
		if box, err = NewSBox(km); err != nil {
			return nil, err
		}
	}

	ks, err := Keystream(km, nonce, len(ciphertext))
	if err != nil {
		return nil, err
	}

	defer keys.ZeroBytes(ks)

	plaintext := make([]byte, len(ciphertext))
	for i, c := range ciphertext {
		plaintext[i] = c ^ ks[i] ^ box.At(i)
	}

	return plaintext, nil
}
