package envelope

import "errors"

// Public, stable errors for callers.
var (
	ErrBadFormat    = errors.New("envelope: bad format")
	ErrBadSignature = errors.New("envelope: bad signature")
	ErrBadNonce     = errors.New("envelope: nonce outside allowed skew")
	ErrDecrypt      = errors.New("envelope: decryption failed")
	ErrBadKey       = errors.New("envelope: bad key")
)
