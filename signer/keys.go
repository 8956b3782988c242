package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	secpKeyFile = "oracle_secp256k1.key"
	edKeyFile   = "sho_ed25519.key"
)

// Signer holds both oracle signing keys, loaded once at startup and
// read-only afterwards.
type Signer struct {
	secp *secp256k1.PrivateKey
	ed   ed25519.PrivateKey
}

// Load reads both keys from dir, generating and persisting any that are
// missing. Key files are hex-encoded and owner-only.
func Load(dir string) (*Signer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keys dir: %w", err)
	}

	secp, err := loadOrCreateSecp(filepath.Join(dir, secpKeyFile))
	if err != nil {
		return nil, err
	}
	ed, err := loadOrCreateEd25519(filepath.Join(dir, edKeyFile))
	if err != nil {
		return nil, err
	}

	s := &Signer{secp: secp, ed: ed}
	slog.Info("oracle keys loaded",
		"secp256k1", s.Secp256k1Pubkey()[:16]+"...",
		"ed25519", s.Ed25519Pubkey()[:16]+"...")
	return s, nil
}

func loadOrCreateSecp(path string) (*secp256k1.PrivateKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(keyBytes) != 32 {
			return nil, fmt.Errorf("corrupt secp256k1 key at %s", path)
		}
		return secp256k1.PrivKeyFromBytes(keyBytes), nil
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	if err := writeKeyFile(path, hex.EncodeToString(priv.Serialize())); err != nil {
		return nil, err
	}
	slog.Info("generated new secp256k1 oracle key", "path", path)
	return priv, nil
}

func loadOrCreateEd25519(path string) (ed25519.PrivateKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("corrupt ed25519 key at %s", path)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate ed25519 seed: %w", err)
	}
	if err := writeKeyFile(path, hex.EncodeToString(seed)); err != nil {
		return nil, err
	}
	slog.Info("generated new ed25519 oracle key", "path", path)
	return ed25519.NewKeyFromSeed(seed), nil
}

func writeKeyFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write key file %s: %w", path, err)
	}
	return nil
}

// SecpPrivateKey exposes the oracle's secp256k1 scalar for the DLC
// attestor, which signs with the same oracle identity.
func (s *Signer) SecpPrivateKey() *secp256k1.PrivateKey {
	return s.secp
}

// Secp256k1Pubkey returns the 33-byte compressed public key, hex-encoded.
func (s *Signer) Secp256k1Pubkey() string {
	return hex.EncodeToString(s.secp.PubKey().SerializeCompressed())
}

// Ed25519Pubkey returns the 32-byte public key, hex-encoded.
func (s *Signer) Ed25519Pubkey() string {
	return hex.EncodeToString(s.ed.Public().(ed25519.PublicKey))
}
