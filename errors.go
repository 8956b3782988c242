package slo

import "errors"

// Error taxonomy shared across the feed, proxy and DLC layers. The HTTP
// boundary is the only place these are translated to status codes.

var (
	// ErrInsufficientSources indicates fewer than quorum samples survived a round.
	ErrInsufficientSources = errors.New("slo: insufficient sources")

	// ErrDivergenceDetected indicates stablecoin normalization was rejected.
	ErrDivergenceDetected = errors.New("slo: stablecoin divergence detected")

	// ErrInvoiceCreationFailed indicates the Lightning node could not mint an invoice.
	ErrInvoiceCreationFailed = errors.New("slo: invoice creation failed")

	// ErrFacilitatorUnavailable indicates the x402 facilitator could not be reached.
	ErrFacilitatorUnavailable = errors.New("slo: facilitator unavailable")

	// ErrPaymentInvalid indicates a MAC, preimage or facilitator rejection.
	ErrPaymentInvalid = errors.New("slo: payment invalid")

	// ErrBlocked indicates the payer address is in cooldown or hard-blocked.
	ErrBlocked = errors.New("slo: payer blocked")

	// ErrDepegCircuitOpen indicates paid routes are suspended by the peg breaker.
	ErrDepegCircuitOpen = errors.New("slo: depeg circuit breaker open")

	// ErrMissingNonces indicates a DLC event has no nonce secrets on disk.
	ErrMissingNonces = errors.New("slo: missing dlc nonces")

	// ErrPriceOutOfRange indicates a price does not fit the event's digit width.
	ErrPriceOutOfRange = errors.New("slo: price out of range")

	// ErrBackendUnavailable indicates a proxy could not reach the oracle backend.
	ErrBackendUnavailable = errors.New("slo: oracle backend unavailable")

	// ErrMalformedHeader indicates the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("slo: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("slo: unsupported x402 version")

	// ErrInvalidAmount indicates an unparseable payment amount.
	ErrInvalidAmount = errors.New("slo: invalid amount")

	// ErrInvalidNonce indicates an unknown, expired or already-consumed nonce.
	ErrInvalidNonce = errors.New("slo: invalid or expired nonce")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("slo: settlement failed")
)
