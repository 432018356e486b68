package envelope

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

const (
	vecNonce      = uint64(1764020895)
	vecPlain      = `{"key":"Какой-то текст"}`
	vecCipher     = "1b3518ec11aab49db6a1199de6db109314419b83988897fb66dd724612def8f8ebc6ebef9a42c07eb7daef2904c0252fcd734099"
	vecSignature  = "2ebf005211c796dc7a5f02b84e115f0fa7e1803f801f6d41c611ed419d40999b21125c7ecdc91cd83e1b398b0929ced3129db1486e3c6475a18382dc4749ed0c"
	vecXSecretMy  = "481179010ae65f2bc7508430ac270386953aa75930042e22c184b78b41e95747"
	vecXPublicMy  = "af2af6e676e7801fc0b150733f79a20d6897b1c9cb4df3f651df81b180ca086e"
	vecXSecretHe  = "a0d70cf83f6db80d093646d66fee62c422a1e160c3d4cd52ef44fd0f2698127d"
	vecXPublicHe  = "2dfb6cf139728610e7766833862dc708cf9ff38a0f7c4b55c68b3bc0cc73d536"
	vecEdSeedMy   = "454b10b610f9a3a99cd577e6d50a9fbabaa8e50e134b250f2695d17ca446f40e"
	vecEdPublicMy = "e498d275fe727bd9150b504d18b65b567516fd4ac3d0ed5e58a50475e8138d8f"
)

func mustKey(t *testing.T, s string) [KeySize]byte {
	t.Helper()
	k, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", s, err)
	}
	return k
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	return b
}

func TestDeriveX25519_Vectors(t *testing.T) {
	seed := mustKey(t, "5e8b7ecfe76faa5022ae7884f7f148d0b801e58ce8783d99bee69fb9e8029f71")
	sk, pk := DeriveX25519(seed)

	if got, want := hex.EncodeToString(sk[:]), "588b7ecfe76faa5022ae7884f7f148d0b801e58ce8783d99bee69fb9e8029f71"; got != want {
		t.Fatalf("secret: got %s want %s", got, want)
	}
	if got, want := hex.EncodeToString(pk[:]), "00525d3ade51dbfb083b3c1fdf63b4a83fe5bef9f95deaf5f3278ccf816a7e0a"; got != want {
		t.Fatalf("public: got %s want %s", got, want)
	}
}

func TestDeriveEd25519_Vector(t *testing.T) {
	_, pk := DeriveEd25519(mustKey(t, vecEdSeedMy))
	if got := hex.EncodeToString(pk); got != vecEdPublicMy {
		t.Fatalf("public: got %s want %s", got, vecEdPublicMy)
	}
}

func TestSeal_KnownVector(t *testing.T) {
	sk, _ := DeriveEd25519(mustKey(t, vecEdSeedMy))

	env, err := Seal([]byte(vecPlain), mustKey(t, vecXSecretMy), sk, mustKey(t, vecXPublicHe), vecNonce)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	want := append(append(mustHex(t, "9fd2246900000000"), mustHex(t, vecCipher)...), mustHex(t, vecSignature)...)
	if !bytes.Equal(env, want) {
		t.Fatalf("envelope mismatch\n got %x\nwant %x", env, want)
	}
}

func TestOpen_KnownVector(t *testing.T) {
	env := append(append(mustHex(t, "9fd2246900000000"), mustHex(t, vecCipher)...), mustHex(t, vecSignature)...)
	edPub := ed25519.PublicKey(mustHex(t, vecEdPublicMy))

	plain, err := OpenAt(env, mustKey(t, vecXSecretHe), mustKey(t, vecXPublicMy), edPub, 0, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != vecPlain {
		t.Fatalf("plaintext: got %q want %q", plain, vecPlain)
	}
}

type party struct {
	kp KeyPair
}

func newParty(t *testing.T) party {
	t.Helper()
	sx, err := NewSeed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	se, err := NewSeed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return party{kp: DeriveKeys(sx, se)}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	a, b := newParty(t), newParty(t)

	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	nonces := []uint64{0, 1, vecNonce, 1<<63 + 5}

	for _, p := range payloads {
		for _, n := range nonces {
			env, err := Seal(p, a.kp.XSecret, a.kp.EdSecret, b.kp.XPublic, n)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if len(env) != MinSize+len(p)+16 {
				t.Fatalf("len: got %d want %d", len(env), MinSize+len(p)+16)
			}
			got, err := Open(env, b.kp.XSecret, a.kp.XPublic, a.kp.EdPublic, 0)
			if err != nil {
				t.Fatalf("Open(nonce=%d, len=%d): %v", n, len(p), err)
			}
			if !bytes.Equal(got, p) {
				t.Fatalf("roundtrip mismatch for nonce %d", n)
			}
		}
	}
}

func TestOpen_TamperedBitsRejected(t *testing.T) {
	a, b := newParty(t), newParty(t)
	env, err := Seal([]byte("tamper me"), a.kp.XSecret, a.kp.EdSecret, b.kp.XPublic, Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for i := 0; i < len(env); i++ {
		for bit := 0; bit < 8; bit++ {
			mod := bytes.Clone(env)
			mod[i] ^= 1 << bit
			got, err := Open(mod, b.kp.XSecret, a.kp.XPublic, a.kp.EdPublic, 0)
			if err == nil {
				t.Fatalf("byte %d bit %d: expected error, got plaintext %q", i, bit, got)
			}
		}
	}
}

func TestOpen_WrongSenderKey(t *testing.T) {
	a, b, c := newParty(t), newParty(t), newParty(t)
	env, err := Seal([]byte("x"), a.kp.XSecret, a.kp.EdSecret, b.kp.XPublic, Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(env, b.kp.XSecret, a.kp.XPublic, c.kp.EdPublic, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := Open(env, b.kp.XSecret, c.kp.XPublic, a.kp.EdPublic, 0); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestOpen_ShortInputIsBadFormat(t *testing.T) {
	a := newParty(t)
	for _, n := range []int{0, 1, MinSize - 1} {
		if _, err := Open(make([]byte, n), a.kp.XSecret, a.kp.XPublic, a.kp.EdPublic, 0); !errors.Is(err, ErrBadFormat) {
			t.Fatalf("len %d: expected ErrBadFormat, got %v", n, err)
		}
	}
}

func TestOpen_NonceSkewWindow(t *testing.T) {
	a, b := newParty(t), newParty(t)
	now := time.Unix(1_700_000_000, 0)
	const maxSkew = 30 * time.Second

	cases := []struct {
		offset int64
		ok     bool
	}{
		{0, true},
		{30, true},
		{-30, true},
		{31, false},
		{-31, false},
		{3600, false},
	}
	for _, tc := range cases {
		n := uint64(now.Unix() + tc.offset)
		env, err := Seal([]byte("fresh"), a.kp.XSecret, a.kp.EdSecret, b.kp.XPublic, n)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		_, err = OpenAt(env, b.kp.XSecret, a.kp.XPublic, a.kp.EdPublic, maxSkew, now)
		if tc.ok && err != nil {
			t.Fatalf("offset %d: unexpected error %v", tc.offset, err)
		}
		if !tc.ok && !errors.Is(err, ErrBadNonce) {
			t.Fatalf("offset %d: expected ErrBadNonce, got %v", tc.offset, err)
		}
	}
}

func TestOpen_SignatureCheckedBeforeSkew(t *testing.T) {
	a, b, c := newParty(t), newParty(t), newParty(t)
	env, err := Seal([]byte("old"), a.kp.XSecret, a.kp.EdSecret, b.kp.XPublic, 1)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(env, b.kp.XSecret, a.kp.XPublic, c.kp.EdPublic, 5*time.Second); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey("zz"); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
	if _, err := ParseKey(vecXPublicMy[:62] + "zz"); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
	k := mustKey(t, "AF2AF6E676E7801FC0B150733F79A20D6897B1C9CB4DF3F651DF81B180CA086E")
	if FormatKey(k[:]) != "AF2AF6E676E7801FC0B150733F79A20D6897B1C9CB4DF3F651DF81B180CA086E" {
		t.Fatalf("FormatKey roundtrip mismatch")
	}
}
