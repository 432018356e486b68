package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the length of every seed, secret and public key handled here.
	KeySize = 32
)

// KeyPair holds one principal's encryption and signature keys.
type KeyPair struct {
	XSecret  [KeySize]byte
	XPublic  [KeySize]byte
	EdSecret ed25519.PrivateKey
	EdPublic ed25519.PublicKey
}

// DeriveX25519 clamps seed into an X25519 secret and returns it with its public key.
func DeriveX25519(seed [KeySize]byte) (secret, public [KeySize]byte) {
	secret = seed
	secret[0] &= 248
	secret[31] &= 127
	secret[31] |= 64

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		// Unreachable: scalar multiplication by the base point never yields the identity.
		panic(fmt.Sprintf("envelope: derive x25519 public: %v", err))
	}
	copy(public[:], pub)
	return secret, public
}

// DeriveEd25519 expands seed into an Ed25519 signing key.
func DeriveEd25519(seed [KeySize]byte) (ed25519.PrivateKey, ed25519.PublicKey) {
	sk := ed25519.NewKeyFromSeed(seed[:])
	return sk, sk.Public().(ed25519.PublicKey)
}

// DeriveKeys builds a KeyPair from independent encryption and signature seeds.
func DeriveKeys(seedX, seedEd [KeySize]byte) KeyPair {
	var kp KeyPair
	kp.XSecret, kp.XPublic = DeriveX25519(seedX)
	kp.EdSecret, kp.EdPublic = DeriveEd25519(seedEd)
	return kp
}

// NewSeed returns 32 bytes from crypto/rand.
func NewSeed() ([KeySize]byte, error) {
	var s [KeySize]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, err
	}
	return s, nil
}

// ParseKey decodes a 64-char hex string (either case) into a 32-byte key.
func ParseKey(s string) ([KeySize]byte, error) {
	var k [KeySize]byte
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return k, ErrBadKey
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, ErrBadKey
	}
	return k, nil
}

// FormatKey renders a key as uppercase hex, the form used on the wire.
func FormatKey(k []byte) string {
	return strings.ToUpper(hex.EncodeToString(k))
}
