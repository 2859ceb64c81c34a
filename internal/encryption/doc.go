// Package encryption is the cipher core: an XOR stream cipher over a chaotic
// keystream, a keyed S-box layer and a BLAKE2b tag.
//
// Every call is bound to one key material and a 16-byte nonce. A nonce must
// never be used twice with the same material; Sealer enforces that for callers
// that let it choose nonces. Decrypt verifies the tag before computing any
// plaintext.
package encryption
