// Package keys manages chaotic key material: generation, evolution,
// context-bound derivation, wiping and the on-disk key artifact.
//
// A Material never leaves this package in raw form except through an
// Artifact, which either carries the seed in the clear or sealed under a
// passphrase Vault.
package keys
