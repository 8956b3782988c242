// Package slo defines the wire types shared by the oracle, the L402 proxy
// and the x402 proxy: signed attestation responses, x402 payment
// requirements and payloads, and settlement metadata.
package slo

import "math/big"

// Attestation is the body returned by every paid oracle route. Canonical is
// the exact byte string that was signed; Signature is base64 over the
// SHA-256 digest of Canonical.
type Attestation struct {
	// Domain is the trading pair symbol (e.g., "BTCUSD").
	Domain string `json:"domain"`

	// Canonical is the pipe-delimited observation string.
	Canonical string `json:"canonical"`

	// Signature is the base64-encoded signature over sha256(Canonical).
	Signature string `json:"signature"`

	// SigningScheme identifies the key that produced Signature
	// ("secp256k1" on the L402 rail, "ed25519" on the x402 rail).
	SigningScheme string `json:"signing_scheme,omitempty"`

	// Pubkey is the hex-encoded public key: 33-byte compressed secp256k1
	// or 32-byte raw Ed25519.
	Pubkey string `json:"pubkey"`
}

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data. For EIP-3009 transfers
	// it must carry the token's EIP-712 domain name and version.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload represents a signed payment presented in the X-PAYMENT header.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the chain-specific signed payment data; for EVM
	// chains it decodes into EVMPayload.
	Payload interface{} `json:"payload"`
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units (wei).
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// LegacyPayment is the pre-facilitator X-PAYMENT form: the client pays the
// receiving address directly and presents the transaction hash together
// with the challenge nonce issued in the 402 response.
type LegacyPayment struct {
	// TxHash is the hash of the USDC transfer transaction.
	TxHash string `json:"tx_hash"`

	// Nonce is the single-use challenge nonce from the 402 body.
	Nonce string `json:"nonce"`

	// From is the payer's address.
	From string `json:"from"`
}

// SettlementResponse represents the facilitator's response after settlement.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// USDCDecimals is the number of decimal places for USDC on every supported chain.
const USDCDecimals = 6

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value := new(big.Float)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, multiplier)

	result, accuracy := value.Int(nil)
	if accuracy != big.Exact {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// USDToAtomic converts a USD route price to USDC atomic units (6 decimals).
// Route prices are small configuration constants, so float noise is absorbed
// by rounding to the nearest unit.
func USDToAtomic(usd float64) *big.Int {
	f := new(big.Float).SetFloat64(usd)
	f.Mul(f, big.NewFloat(1e6))
	f.Add(f, big.NewFloat(0.5))
	result, _ := f.Int(nil)
	return result
}
