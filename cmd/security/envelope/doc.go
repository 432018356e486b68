// Package envelope implements the Aguardia sealed envelope format.
//
// Wire layout:
//
//	nonce(8, LE unix seconds) || XChaCha20-Poly1305 ciphertext+tag || Ed25519 signature(64)
//
// The signature covers nonce||ciphertext. The symmetric key is the raw X25519
// shared secret and the 24-byte AEAD nonce is the 8-byte timestamp repeated
// three times. Both must stay exactly as they are for wire compatibility with
// deployed clients: two envelopes sealed between the same pair of keys within
// the same second share an AEAD nonce.
//
// Key material:
//   - Encryption keys are X25519, derived from a 32-byte seed by clamping.
//   - Signature keys are Ed25519, derived from a separate 32-byte seed.
package envelope
