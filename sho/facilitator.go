package sho

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/myceliasignal/slo"
)

// CDPAuth mints the short-lived JWTs that authorize facilitator calls. The
// key material decides the algorithm: an EC PEM key signs ES256, anything
// else is treated as a raw Ed25519 seed and signs EdDSA.
type CDPAuth struct {
	keyID      string
	privateKey interface{}
	alg        jose.SignatureAlgorithm
}

// NewCDPAuth parses the facilitator credential. secret is either a
// PEM-encoded EC private key or a base64-encoded Ed25519 seed; Ed25519 keys
// may arrive as the 32-byte seed or the 64-byte seed+public concatenation
// and are normalized to the seed.
func NewCDPAuth(keyID, secret string) (*CDPAuth, error) {
	if keyID == "" {
		return nil, fmt.Errorf("facilitator key id must not be empty")
	}

	if block, _ := pem.Decode([]byte(secret)); block != nil {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err2 != nil {
				return nil, fmt.Errorf("parse facilitator key: %w", err)
			}
			ec, ok := parsed.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("facilitator PEM key is not EC")
			}
			key = ec
		}
		return &CDPAuth{keyID: keyID, privateKey: key, alg: jose.ES256}, nil
	}

	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("facilitator secret is neither PEM nor base64: %w", err)
	}
	switch len(seed) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		seed = seed[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("ed25519 facilitator key must be 32 or 64 bytes, got %d", len(seed))
	}
	return &CDPAuth{
		keyID:      keyID,
		privateKey: ed25519.NewKeyFromSeed(seed),
		alg:        jose.EdDSA,
	}, nil
}

type facilitatorClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// Token mints a JWT scoped to one method+host+path, valid for two minutes.
func (a *CDPAuth) Token(method, host, path string) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("jwt nonce: %w", err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.privateKey},
		(&jose.SignerOptions{}).
			WithType("JWT").
			WithHeader("kid", a.keyID).
			WithHeader("nonce", hex.EncodeToString(nonceBytes)),
	)
	if err != nil {
		return "", fmt.Errorf("create jwt signer: %w", err)
	}

	now := time.Now()
	claims := &facilitatorClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyID,
			Issuer:    "cdp",
			Audience:  jwt.Audience{"cdp_service"},
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(2 * time.Minute)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// FacilitatorClient talks to the x402 facilitator's verify and settle
// endpoints. Settle gets a longer timeout: it waits on a chain transaction.
type FacilitatorClient struct {
	BaseURL       string // e.g. https://api.cdp.coinbase.com/platform/v2/x402
	Auth          *CDPAuth
	Client        *http.Client
	VerifyTimeout time.Duration
	SettleTimeout time.Duration
}

// NewFacilitatorClient builds a client with the standard timeouts.
func NewFacilitatorClient(baseURL string, auth *CDPAuth) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Auth:          auth,
		Client:        &http.Client{},
		VerifyTimeout: 10 * time.Second,
		SettleTimeout: 30 * time.Second,
	}
}

// FacilitatorRequest is the body POSTed to both verify and settle.
type FacilitatorRequest struct {
	X402Version         int                    `json:"x402Version"`
	PaymentPayload      slo.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements slo.PaymentRequirement `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// Verify checks a payment authorization without executing it.
func (c *FacilitatorClient) Verify(ctx context.Context, payment slo.PaymentPayload, requirement slo.PaymentRequirement) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", payment, requirement, c.VerifyTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes a verified payment on chain.
func (c *FacilitatorClient) Settle(ctx context.Context, payment slo.PaymentPayload, requirement slo.PaymentRequirement) (*slo.SettlementResponse, error) {
	var out slo.SettlementResponse
	if err := c.post(ctx, "/settle", payment, requirement, c.SettleTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payment slo.PaymentPayload, requirement slo.PaymentRequirement, timeout time.Duration, out interface{}) error {
	body, err := json.Marshal(FacilitatorRequest{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("marshal facilitator request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Auth != nil {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("bad facilitator URL: %w", err)
		}
		token, err := c.Auth.Token(http.MethodPost, u.Host, u.Path+path)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", slo.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", slo.ErrFacilitatorUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode facilitator response: %w", err)
	}
	return nil
}
