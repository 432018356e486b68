// Package identity implements Aguardia's principal directory.
//
// A principal is either a user account (keyed by email, created by the
// login handshake) or a device provisioned by an existing principal. Both
// carry an X25519 encryption key and an Ed25519 signature key; the signature
// key is unique and is what connections present on accept.
package identity
