// Package keystream turns raw chaotic samples into keystream bytes.
//
// Raw samples are conditioned in 32-byte windows by a SHA3-256 hash chain, so
// statistical bias in the quantized orbit does not reach the ciphertext. The
// chain binds each window to its index and to every window before it.
package keystream
