package signer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestLoadPersistsKeys(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.Secp256k1Pubkey() != second.Secp256k1Pubkey() {
		t.Error("secp256k1 key changed across reload")
	}
	if first.Ed25519Pubkey() != second.Ed25519Pubkey() {
		t.Error("ed25519 key changed across reload")
	}

	info, err := os.Stat(filepath.Join(dir, "oracle_secp256k1.key"))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}
}

func TestSignSecp256k1Verifies(t *testing.T) {
	s := testSigner(t)
	canonical := "v1|BTCUSD|68867.50|USD|2|2026-08-24T15:00:00Z|890123|coinbase,kraken|median"

	sig, pubkey := s.SignSecp256k1(canonical)
	if !VerifySecp256k1(canonical, sig, pubkey) {
		t.Error("signature does not verify")
	}
	if VerifySecp256k1(canonical+"x", sig, pubkey) {
		t.Error("signature verifies over altered canonical")
	}

	other := testSigner(t)
	if VerifySecp256k1(canonical, sig, other.Secp256k1Pubkey()) {
		t.Error("signature verifies under wrong pubkey")
	}
}

func TestSignEd25519Verifies(t *testing.T) {
	s := testSigner(t)
	canonical := "v1|ETHUSD|3350.00|USD|2|2026-08-24T15:00:00Z|890123|coinbase,kraken|median"

	sig, pubkey := s.SignEd25519(canonical)
	if !VerifyEd25519(canonical, sig, pubkey) {
		t.Error("signature does not verify")
	}
	if VerifyEd25519(canonical+"x", sig, pubkey) {
		t.Error("signature verifies over altered canonical")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := testSigner(t)
	if VerifySecp256k1("msg", "!!not-base64!!", s.Secp256k1Pubkey()) {
		t.Error("garbage secp256k1 signature verified")
	}
	if VerifyEd25519("msg", "!!not-base64!!", s.Ed25519Pubkey()) {
		t.Error("garbage ed25519 signature verified")
	}
	if VerifySecp256k1("msg", "AAAA", "zz") {
		t.Error("garbage pubkey verified")
	}
}

func TestCrossCertification(t *testing.T) {
	s := testSigner(t)
	cert := s.CrossCertify("oracle.test", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	if cert.Timestamp != "2026-08-24T12:00:00Z" {
		t.Errorf("timestamp = %q", cert.Timestamp)
	}
	if cert.Secp256k1Pubkey != s.Secp256k1Pubkey() || cert.Ed25519Pubkey != s.Ed25519Pubkey() {
		t.Error("pubkeys in artifact do not match signer")
	}
	if !VerifyCrossCertification(cert) {
		t.Error("cross-certification does not verify")
	}

	tampered := *cert
	tampered.Statement = tampered.Statement + "x"
	if VerifyCrossCertification(&tampered) {
		t.Error("tampered statement verifies")
	}
}
