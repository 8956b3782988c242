package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signing scheme identifiers as they appear in attestation bodies.
const (
	SchemeSecp256k1 = "secp256k1"
	SchemeEd25519   = "ed25519"
)

// SignSecp256k1 signs sha256(canonical) with the oracle's secp256k1 key
// and returns the base64 signature and the compressed pubkey hex. The
// signature is the fixed 64-byte r||s form the deployed verifiers expect,
// not DER.
func (s *Signer) SignSecp256k1(canonical string) (string, string) {
	digest := sha256.Sum256([]byte(canonical))
	sig := secpecdsa.Sign(s.secp, digest[:])
	r, ss := sig.R(), sig.S()
	rb, sb := r.Bytes(), ss.Bytes()
	raw := make([]byte, 0, 64)
	raw = append(raw, rb[:]...)
	raw = append(raw, sb[:]...)
	return base64.StdEncoding.EncodeToString(raw), s.Secp256k1Pubkey()
}

// SignEd25519 signs sha256(canonical) with the oracle's Ed25519 key.
// Ed25519 normally signs the message itself; signing the digest here is
// deliberate, for wire compatibility with the deployed verification
// clients, which hash before verifying on both rails.
func (s *Signer) SignEd25519(canonical string) (string, string) {
	digest := sha256.Sum256([]byte(canonical))
	sig := ed25519.Sign(s.ed, digest[:])
	return base64.StdEncoding.EncodeToString(sig), s.Ed25519Pubkey()
}

// VerifySecp256k1 checks a 64-byte r||s signature over sha256(canonical)
// against a compressed pubkey. Exported for quorum clients and tests.
func VerifySecp256k1(canonical, sigB64, pubkeyHex string) bool {
	raw, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(raw) != 64 {
		return false
	}
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(raw[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(raw[32:]); overflow {
		return false
	}
	digest := sha256.Sum256([]byte(canonical))
	return secpecdsa.NewSignature(&r, &s).Verify(digest[:], pub)
}

// VerifyEd25519 checks an Ed25519 signature over sha256(canonical).
func VerifyEd25519(canonical, sigB64, pubkeyHex string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	digest := sha256.Sum256([]byte(canonical))
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}
