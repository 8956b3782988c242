// Package l402 implements the Lightning HTTP 402 proxy: invoice minting via
// the node's REST API, macaroon issuance bound to the invoice payment hash,
// and preimage verification on the retry.
package l402

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/macaroon.v2"

	"github.com/myceliasignal/slo"
)

// Minter issues and verifies macaroons under a single process-lifetime root
// key. Rotating the key invalidates all outstanding macaroons, which is
// acceptable for a bearer-payment scheme.
type Minter struct {
	rootKey  []byte
	location string
}

// NewMinter loads the 32-byte root key from path, generating and persisting
// one if absent.
func NewMinter(path, location string) (*Minter, error) {
	key, err := os.ReadFile(path)
	if err != nil || len(key) != 32 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate root key: %w", err)
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, fmt.Errorf("write root key %s: %w", path, err)
		}
		slog.Info("generated new macaroon root key", "path", path)
	}
	return &Minter{rootKey: key, location: location}, nil
}

// Mint creates a macaroon whose identifier is the hex payment hash. The
// macaroon carries its own identity, so no invoice record is persisted.
func (m *Minter) Mint(paymentHash []byte) (string, error) {
	mac, err := macaroon.New(m.rootKey, []byte(hex.EncodeToString(paymentHash)),
		m.location, macaroon.LatestVersion)
	if err != nil {
		return "", fmt.Errorf("mint macaroon: %w", err)
	}
	raw, err := mac.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal macaroon: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Verify checks the macaroon MAC under the root key and that the SHA-256 of
// the presented preimage equals the macaroon identifier. Both must hold: the
// MAC proves we minted the token, the preimage proves the invoice was paid.
func (m *Minter) Verify(macToken, preimageHex string) error {
	raw, err := hex.DecodeString(macToken)
	if err != nil {
		// Some wallets send the macaroon base64-encoded.
		raw, err = base64.StdEncoding.DecodeString(macToken)
		if err != nil {
			return fmt.Errorf("%w: undecodable macaroon", slo.ErrPaymentInvalid)
		}
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("%w: malformed macaroon", slo.ErrPaymentInvalid)
	}
	if err := mac.Verify(m.rootKey, func(caveat string) error { return nil }, nil); err != nil {
		return fmt.Errorf("%w: macaroon MAC mismatch", slo.ErrPaymentInvalid)
	}

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return fmt.Errorf("%w: undecodable preimage", slo.ErrPaymentInvalid)
	}
	hash := sha256.Sum256(preimage)
	if hex.EncodeToString(hash[:]) != string(mac.Id()) {
		return fmt.Errorf("%w: preimage does not match payment hash", slo.ErrPaymentInvalid)
	}
	return nil
}
