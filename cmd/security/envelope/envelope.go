package envelope

import (
	"crypto/cipher"
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	NonceSize     = 8
	SignatureSize = ed25519.SignatureSize
	// MinSize is the shortest byte string Open will look at.
	MinSize = NonceSize + SignatureSize
)

// Seal encrypts payload for theirX and signs the result with mySigning.
//
// nonce is the sender's unix time in seconds; callers normally pass Now().
func Seal(payload []byte, myX [KeySize]byte, mySigning ed25519.PrivateKey, theirX [KeySize]byte, nonce uint64) ([]byte, error) {
	aead, err := newAEAD(myX, theirX)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(payload)+aead.Overhead()+SignatureSize)
	binary.LittleEndian.PutUint64(out, nonce)
	out = aead.Seal(out, expandNonce(nonce), payload, nil)

	sig := ed25519.Sign(mySigning, out)
	return append(out, sig...), nil
}

// Open verifies and decrypts env using the current wall clock.
//
// A maxSkew of zero disables the freshness check.
func Open(env []byte, myX, theirX [KeySize]byte, theirEd ed25519.PublicKey, maxSkew time.Duration) ([]byte, error) {
	return OpenAt(env, myX, theirX, theirEd, maxSkew, time.Now())
}

// OpenAt is Open with an explicit reference time.
func OpenAt(env []byte, myX, theirX [KeySize]byte, theirEd ed25519.PublicKey, maxSkew time.Duration, now time.Time) ([]byte, error) {
	if len(env) < MinSize {
		return nil, ErrBadFormat
	}
	if len(theirEd) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}

	signed, sig := env[:len(env)-SignatureSize], env[len(env)-SignatureSize:]
	if !ed25519.Verify(theirEd, signed, sig) {
		return nil, ErrBadSignature
	}

	nonce := binary.LittleEndian.Uint64(signed[:NonceSize])
	if maxSkew > 0 && skew(uint64(now.Unix()), nonce) > uint64(maxSkew/time.Second) {
		return nil, ErrBadNonce
	}

	aead, err := newAEAD(myX, theirX)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, expandNonce(nonce), signed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Now returns the current unix time as an envelope nonce.
func Now() uint64 {
	return uint64(time.Now().Unix())
}

// Timestamp reads the nonce of an envelope without verifying anything.
func Timestamp(env []byte) (uint64, bool) {
	if len(env) < NonceSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(env[:NonceSize]), true
}

func newAEAD(myX, theirX [KeySize]byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(myX[:], theirX[:])
	if err != nil {
		// Low-order peer key: the shared secret would be all zeros.
		return nil, ErrBadKey
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, err
	}
	return aead, nil
}

func expandNonce(n uint64) []byte {
	out := make([]byte, chacha20poly1305.NonceSizeX)
	binary.LittleEndian.PutUint64(out[0:8], n)
	binary.LittleEndian.PutUint64(out[8:16], n)
	binary.LittleEndian.PutUint64(out[16:24], n)
	return out
}

func skew(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
