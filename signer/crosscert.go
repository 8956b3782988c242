package signer

import (
	"fmt"
	"time"
)

// CrossCertification binds the secp256k1 and Ed25519 identities to one
// oracle: a deterministic statement signed independently by both keys, so
// a client trusting either key can verify the other belongs to the same
// operator.
type CrossCertification struct {
	OracleID           string `json:"oracle_id"`
	Statement          string `json:"statement"`
	Secp256k1Pubkey    string `json:"secp256k1_pubkey"`
	Ed25519Pubkey      string `json:"ed25519_pubkey"`
	Secp256k1Signature string `json:"secp256k1_signature"`
	Ed25519Signature   string `json:"ed25519_signature"`
	Timestamp          string `json:"timestamp"`
}

// CrossCertify produces the cross-certification artifact for this signer.
func (s *Signer) CrossCertify(oracleID string, at time.Time) *CrossCertification {
	ts := at.UTC().Format("2006-01-02T15:04:05Z")
	statement := fmt.Sprintf(
		"Oracle cross-certification | oracle_id: %s | secp256k1: %s | ed25519: %s | timestamp: %s",
		oracleID, s.Secp256k1Pubkey(), s.Ed25519Pubkey(), ts)

	secpSig, _ := s.SignSecp256k1(statement)
	edSig, _ := s.SignEd25519(statement)

	return &CrossCertification{
		OracleID:           oracleID,
		Statement:          statement,
		Secp256k1Pubkey:    s.Secp256k1Pubkey(),
		Ed25519Pubkey:      s.Ed25519Pubkey(),
		Secp256k1Signature: secpSig,
		Ed25519Signature:   edSig,
		Timestamp:          ts,
	}
}

// VerifyCrossCertification checks both signatures over the statement.
func VerifyCrossCertification(cert *CrossCertification) bool {
	return VerifySecp256k1(cert.Statement, cert.Secp256k1Signature, cert.Secp256k1Pubkey) &&
		VerifyEd25519(cert.Statement, cert.Ed25519Signature, cert.Ed25519Pubkey)
}
