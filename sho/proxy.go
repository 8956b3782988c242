// Package sho implements the x402 USDC payment proxy: 402 payment
// requirements, facilitator verify+settle with CDP JWT auth, a legacy
// direct-to-chain payment form with optimistic delivery, tiered payer
// enforcement, and the stablecoin depeg circuit breaker. Attestations
// fetched from the oracle backend are re-signed with the Ed25519 key before
// delivery.
package sho

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/myceliasignal/slo"
	"github.com/myceliasignal/slo/encoding"
	"github.com/myceliasignal/slo/signer"
)

// Version reported by /sho/info.
const Version = "1.2.0"

// Config is the static proxy configuration.
type Config struct {
	Network        string // chain identifier in payment requirements, e.g. "base"
	USDCContract   string
	PaymentAddress string
	PublicBaseURL  string // external URL prefix for the resource field
	BackendURL     string // oracle attestation backend
}

// RouteConfig is one paid route's price.
type RouteConfig struct {
	PriceUSD float64
}

// Proxy is the x402 payment proxy.
type Proxy struct {
	cfg         Config
	signer      *signer.Signer
	facilitator *FacilitatorClient
	chain       transferVerifier
	enforcer    *Enforcer
	depeg       *DepegBreaker
	nonces      *NonceStore
	pending     *PendingConfirmations
	routes      map[string]RouteConfig
	client      *http.Client
}

// NewProxy wires the proxy over the standard route table. facilitator may
// be nil to disable the facilitator path; chain may be nil to disable the
// legacy path.
func NewProxy(cfg Config, sgn *signer.Signer, facilitator *FacilitatorClient, chain transferVerifier, depegThreshold float64) *Proxy {
	enforcer := NewEnforcer()
	return &Proxy{
		cfg:         cfg,
		signer:      sgn,
		facilitator: facilitator,
		chain:       chain,
		enforcer:    enforcer,
		depeg:       NewDepegBreaker(depegThreshold),
		nonces:      NewNonceStore(),
		pending:     NewPendingConfirmations(chain, enforcer),
		routes: map[string]RouteConfig{
			"/oracle/btcusd":      {PriceUSD: 0.001},
			"/oracle/btcusd/vwap": {PriceUSD: 0.002},
			"/oracle/ethusd":      {PriceUSD: 0.001},
			"/oracle/eurusd":      {PriceUSD: 0.001},
			"/oracle/xauusd":      {PriceUSD: 0.001},
			"/oracle/solusd":      {PriceUSD: 0.001},
			"/oracle/btceur":      {PriceUSD: 0.001},
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Pending exposes the confirmation queue so the command loop can run it.
func (p *Proxy) Pending() *PendingConfirmations { return p.pending }

// Handler returns the chi router for the proxy.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/sho/info", p.handleInfo)
	r.Get("/sho/enforcement/{address}", p.handleEnforcement)
	r.Get("/health", p.forwardFree)
	r.HandleFunc("/*", p.handlePaid)
	return r
}

func (p *Proxy) handlePaid(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	route, ok := p.routes[path]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route: "+path)
		return
	}

	if peg := p.depeg.Check(r.Context()); !peg.Pegged {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     "DEPEG_CIRCUIT_OPEN",
			"detail":    "USDC payment suspended, stablecoin deviation exceeds threshold",
			"usdc_rate": peg.Rate,
			"threshold": p.depeg.Threshold(),
		})
		return
	}

	header := r.Header.Get("X-PAYMENT")
	if header == "" {
		p.challenge(w, r, route)
		return
	}

	payment, legacy, err := parsePayment(header)
	switch {
	case err != nil:
		writeError(w, http.StatusBadRequest, "MALFORMED_HEADER", err.Error())
	case legacy != nil:
		p.handleLegacy(w, r, route, legacy)
	default:
		p.handleFacilitated(w, r, route, payment)
	}
}

// challenge returns the 402 with payment requirements in both the body and
// the PAYMENT-REQUIRED header. The body additionally carries the legacy
// challenge block with a fresh single-use nonce.
func (p *Proxy) challenge(w http.ResponseWriter, r *http.Request, route RouteConfig) {
	requirement := p.requirementFor(route, r.URL.Path)
	response := slo.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "X-PAYMENT header is required",
		Accepts:     []slo.PaymentRequirement{requirement},
	}

	headerValue, err := encoding.EncodeRequirements(response)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	body := struct {
		slo.PaymentRequirementsResponse
		Legacy legacyChallenge `json:"x402"`
	}{
		PaymentRequirementsResponse: response,
		Legacy: legacyChallenge{
			Version:   "1",
			Chain:     p.cfg.Network,
			Asset:     "USDC",
			Contract:  p.cfg.USDCContract,
			Recipient: p.cfg.PaymentAddress,
			Amount:    fmt.Sprintf("%g", route.PriceUSD),
			Nonce:     p.nonces.Issue(),
			ExpiresIn: int(NonceTTL.Seconds()),
		},
	}

	w.Header().Set("PAYMENT-REQUIRED", headerValue)
	writeJSON(w, http.StatusPaymentRequired, body)
}

type legacyChallenge struct {
	Version   string `json:"version"`
	Chain     string `json:"chain"`
	Asset     string `json:"asset"`
	Contract  string `json:"contract"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	ExpiresIn int    `json:"expires_in"`
}

func (p *Proxy) requirementFor(route RouteConfig, path string) slo.PaymentRequirement {
	return slo.PaymentRequirement{
		Scheme:            "exact",
		Network:           p.cfg.Network,
		MaxAmountRequired: slo.USDToAtomic(route.PriceUSD).String(),
		Asset:             p.cfg.USDCContract,
		PayTo:             p.cfg.PaymentAddress,
		Resource:          p.cfg.PublicBaseURL + path,
		Description:       "Signed price attestation",
		MimeType:          "application/json",
		MaxTimeoutSeconds: int(NonceTTL.Seconds()),
		Extra: map[string]interface{}{
			// EIP-712 domain of the USDC contract, required for EIP-3009.
			"name":    "USD Coin",
			"version": "2",
		},
	}
}

// parsePayment decodes the X-PAYMENT header into exactly one of the two
// accepted forms. Facilitator clients send base64 JSON; legacy clients send
// raw JSON, so both framings are tried.
func parsePayment(header string) (*slo.PaymentPayload, *slo.LegacyPayment, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw = []byte(header)
	}

	var probe struct {
		TxHash      string `json:"tx_hash"`
		X402Version int    `json:"x402Version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", slo.ErrMalformedHeader, err)
	}

	if probe.TxHash != "" {
		var legacy slo.LegacyPayment
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", slo.ErrMalformedHeader, err)
		}
		if legacy.Nonce == "" || legacy.From == "" {
			return nil, nil, fmt.Errorf("%w: legacy payment needs tx_hash, nonce and from", slo.ErrMalformedHeader)
		}
		return nil, &legacy, nil
	}

	if probe.X402Version != 1 {
		return nil, nil, fmt.Errorf("%w: version %d", slo.ErrUnsupportedVersion, probe.X402Version)
	}
	var payment slo.PaymentPayload
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", slo.ErrMalformedHeader, err)
	}
	return &payment, nil, nil
}

// handleFacilitated runs the primary path: facilitator verify, settle,
// backend fetch, Ed25519 re-sign. Replay protection is the EIP-3009 nonce,
// validated by the facilitator and the chain.
func (p *Proxy) handleFacilitated(w http.ResponseWriter, r *http.Request, route RouteConfig, payment *slo.PaymentPayload) {
	if p.facilitator == nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_HEADER", "facilitator payments not enabled")
		return
	}
	evm, err := encoding.EVMPayloadOf(*payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_HEADER", err.Error())
		return
	}
	payer := evm.Authorization.From
	if !common.IsHexAddress(payer) {
		writeError(w, http.StatusBadRequest, "MALFORMED_HEADER", "bad payer address")
		return
	}

	if status := p.enforcer.Check(payer); !status.Allowed {
		writeBlocked(w, status)
		return
	}

	requirement := p.requirementFor(route, r.URL.Path)

	verify, err := p.facilitator.Verify(r.Context(), *payment, requirement)
	if err != nil {
		p.enforcer.RecordFailure(payer)
		slog.Error("facilitator verify failed", "payer", payer, "error", err)
		writeError(w, http.StatusPaymentRequired, "FACILITATOR_UNAVAILABLE", err.Error())
		return
	}
	if !verify.IsValid {
		p.enforcer.RecordFailure(payer)
		slog.Warn("payment rejected by facilitator", "payer", payer, "reason", verify.InvalidReason)
		writeError(w, http.StatusPaymentRequired, "PAYMENT_INVALID", verify.InvalidReason)
		return
	}

	settlement, err := p.facilitator.Settle(r.Context(), *payment, requirement)
	if err != nil {
		p.enforcer.RecordFailure(payer)
		slog.Error("facilitator settle failed", "payer", payer, "error", err)
		writeError(w, http.StatusPaymentRequired, "FACILITATOR_UNAVAILABLE", err.Error())
		return
	}
	if !settlement.Success {
		p.enforcer.RecordFailure(payer)
		slog.Warn("settlement failed", "payer", payer, "reason", settlement.ErrorReason)
		writeError(w, http.StatusPaymentRequired, "SETTLEMENT_FAILED", settlement.ErrorReason)
		return
	}

	att, err := p.fetchAttestation(r)
	if err != nil {
		slog.Error("backend unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
		return
	}
	p.resign(att)
	p.enforcer.RecordSuccess(payer)

	if header, err := encoding.EncodeSettlement(*settlement); err == nil {
		w.Header().Set("X-PAYMENT-RESPONSE", header)
	}
	slog.Info("x402 payment settled",
		"payer", payer, "path", r.URL.Path, "tx", settlement.Transaction)
	writeJSON(w, http.StatusOK, attestationResponse{
		Attestation: *att,
		Payment:     &paymentInfo{Protocol: "x402", TxHash: settlement.Transaction, Confirmed: true},
	})
}

// handleLegacy runs the direct-to-chain path with optimistic delivery for
// transactions still in the mempool.
func (p *Proxy) handleLegacy(w http.ResponseWriter, r *http.Request, route RouteConfig, legacy *slo.LegacyPayment) {
	if p.chain == nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_HEADER", "legacy payments not enabled")
		return
	}
	if !p.nonces.Consume(legacy.Nonce) {
		writeError(w, http.StatusBadRequest, "INVALID_NONCE", "invalid or expired nonce")
		return
	}

	if status := p.enforcer.Check(legacy.From); !status.Allowed {
		writeBlocked(w, status)
		return
	}

	expected := slo.USDToAtomic(route.PriceUSD)
	verification, err := p.chain.VerifyTransfer(r.Context(), legacy.TxHash, expected)
	if err != nil {
		p.enforcer.RecordFailure(legacy.From)
		slog.Error("chain verification failed", "tx_hash", legacy.TxHash, "error", err)
		writeError(w, http.StatusPaymentRequired, "PAYMENT_INVALID", err.Error())
		return
	}
	if !verification.Valid {
		p.enforcer.RecordFailure(legacy.From)
		slog.Warn("payment rejected", "tx_hash", legacy.TxHash, "reason", verification.Reason)
		writeError(w, http.StatusPaymentRequired, "PAYMENT_INVALID", verification.Reason)
		return
	}

	att, err := p.fetchAttestation(r)
	if err != nil {
		slog.Error("backend unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
		return
	}
	p.resign(att)

	if !verification.Confirmed {
		p.pending.Add(legacy.TxHash, legacy.From, expected)
		slog.Info("optimistic delivery", "tx_hash", legacy.TxHash, "from", legacy.From)
	}
	p.enforcer.RecordSuccess(legacy.From)

	writeJSON(w, http.StatusOK, attestationResponse{
		Attestation: *att,
		Payment: &paymentInfo{
			Protocol:  "x402",
			TxHash:    legacy.TxHash,
			Confirmed: verification.Confirmed,
		},
	})
}

type attestationResponse struct {
	slo.Attestation
	Payment *paymentInfo `json:"payment,omitempty"`
}

type paymentInfo struct {
	Protocol  string `json:"protocol"`
	TxHash    string `json:"tx_hash,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// fetchAttestation gets the secp256k1-signed attestation from the backend.
func (p *Proxy) fetchAttestation(r *http.Request) (*slo.Attestation, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.cfg.BackendURL+r.URL.Path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slo.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned %d", slo.ErrBackendUnavailable, resp.StatusCode)
	}
	var att slo.Attestation
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("%w: %v", slo.ErrBackendUnavailable, err)
	}
	if att.Canonical == "" {
		return nil, fmt.Errorf("%w: backend response missing canonical", slo.ErrBackendUnavailable)
	}
	return &att, nil
}

// resign replaces the backend's secp256k1 signature with the Ed25519 one.
// The canonical string is untouched, so both rails attest identical bytes.
func (p *Proxy) resign(att *slo.Attestation) {
	sig, pubkey := p.signer.SignEd25519(att.Canonical)
	att.Signature = sig
	att.SigningScheme = signer.SchemeEd25519
	att.Pubkey = pubkey
}

func (p *Proxy) forwardFree(w http.ResponseWriter, r *http.Request) {
	att, err := p.client.Get(p.cfg.BackendURL + r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
		return
	}
	defer att.Body.Close()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(att.StatusCode)
	if _, err := io.Copy(w, att.Body); err != nil {
		slog.Error("failed to relay backend body", "error", err)
	}
}

func (p *Proxy) handleInfo(w http.ResponseWriter, r *http.Request) {
	peg := p.depeg.Check(r.Context())
	endpoints := make(map[string]map[string]float64, len(p.routes))
	for path, route := range p.routes {
		endpoints[path] = map[string]float64{"price_usd": route.PriceUSD}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocol":        "x402",
		"version":         Version,
		"signing_scheme":  signer.SchemeEd25519,
		"pubkey":          p.signer.Ed25519Pubkey(),
		"payment_chain":   p.cfg.Network,
		"payment_asset":   "USDC",
		"payment_address": p.cfg.PaymentAddress,
		"usdc_contract":   p.cfg.USDCContract,
		"depeg_active":    !peg.Pegged,
		"endpoints":       endpoints,
	})
}

func (p *Proxy) handleEnforcement(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.enforcer.Check(chi.URLParam(r, "address")))
}

func writeBlocked(w http.ResponseWriter, status EnforcementStatus) {
	writeJSON(w, http.StatusForbidden, map[string]interface{}{
		"error":  "BLOCKED",
		"reason": status.Reason,
		"tier":   status.Tier,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
