package sho

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/myceliasignal/slo"
	"github.com/myceliasignal/slo/encoding"
	"github.com/myceliasignal/slo/signer"
)

const testPayer = "0x1111111111111111111111111111111111111111"

type fakeChain struct {
	result Verification
	err    error
	calls  int
}

func (f *fakeChain) VerifyTransfer(ctx context.Context, txHash string, expected *big.Int) (Verification, error) {
	f.calls++
	return f.result, f.err
}

// testBackend serves a secp256k1-signed attestation like the oracle would.
func testBackend(t *testing.T, sgn *signer.Signer) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		canonical := "v1|BTCUSD|68867.50|USD|2|2026-08-24T15:00:00Z|890123|coinbase,kraken|median"
		sig, pubkey := sgn.SignSecp256k1(canonical)
		json.NewEncoder(w).Encode(slo.Attestation{
			Domain:        "BTCUSD",
			Canonical:     canonical,
			Signature:     sig,
			SigningScheme: signer.SchemeSecp256k1,
			Pubkey:        pubkey,
		})
	}))
	t.Cleanup(backend.Close)
	return backend
}

func testProxy(t *testing.T, facilitatorURL string, chain transferVerifier) (*Proxy, *signer.Signer) {
	t.Helper()
	sgn, err := signer.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	cfg := Config{
		Network:        "base",
		USDCContract:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PaymentAddress: "0x2222222222222222222222222222222222222222",
		PublicBaseURL:  "https://slo.test",
		BackendURL:     testBackend(t, sgn).URL,
	}
	var facilitator *FacilitatorClient
	if facilitatorURL != "" {
		facilitator = NewFacilitatorClient(facilitatorURL, nil)
	}
	proxy := NewProxy(cfg, sgn, facilitator, chain, 0)
	// Pin the breaker to its cached state so tests never sample live
	// exchanges.
	proxy.depeg.lastCheck = time.Now()
	return proxy, sgn
}

func facilitatedHeader(t *testing.T, from string) string {
	t.Helper()
	header, err := encoding.EncodePayment(slo.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload: map[string]interface{}{
			"signature": "0xsig",
			"authorization": map[string]interface{}{
				"from":  from,
				"to":    "0x2222222222222222222222222222222222222222",
				"value": "1000",
				"nonce": "0x01",
			},
		},
	})
	if err != nil {
		t.Fatalf("encode payment: %v", err)
	}
	return header
}

func TestChallengeCarriesRequirements(t *testing.T) {
	proxy, _ := testProxy(t, "", nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/oracle/btcusd")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	decoded, err := encoding.DecodeRequirements(resp.Header.Get("PAYMENT-REQUIRED"))
	if err != nil {
		t.Fatalf("decode PAYMENT-REQUIRED: %v", err)
	}
	if len(decoded.Accepts) != 1 {
		t.Fatalf("accepts = %+v", decoded.Accepts)
	}
	req := decoded.Accepts[0]
	if req.MaxAmountRequired != "1000" {
		t.Errorf("maxAmountRequired = %q, want 1000", req.MaxAmountRequired)
	}
	if req.PayTo != "0x2222222222222222222222222222222222222222" {
		t.Errorf("payTo = %q", req.PayTo)
	}
	if req.Resource != "https://slo.test/oracle/btcusd" {
		t.Errorf("resource = %q", req.Resource)
	}

	var body struct {
		Error  string `json:"error"`
		Legacy struct {
			Nonce     string `json:"nonce"`
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
		} `json:"x402"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Legacy.Nonce == "" {
		t.Error("challenge body missing legacy nonce")
	}
	if body.Legacy.Amount != "0.001" {
		t.Errorf("legacy amount = %q", body.Legacy.Amount)
	}
}

func TestDepegSuspendsPaidRoutes(t *testing.T) {
	proxy, _ := testProxy(t, "", nil)
	proxy.depeg.active = true

	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/oracle/btcusd")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "DEPEG_CIRCUIT_OPEN" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestHardBlockedPayerGets403(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("facilitator called for blocked payer")
	}))
	defer facilitator.Close()

	proxy, _ := testProxy(t, facilitator.URL, nil)
	for i := 0; i < HardBlockThreshold; i++ {
		proxy.enforcer.RecordFailure(testPayer)
	}

	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
	req.Header.Set("X-PAYMENT", facilitatedHeader(t, testPayer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
		Tier   int    `json:"tier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "BLOCKED" || body.Reason != "hard_blocked" || body.Tier != 3 {
		t.Errorf("body = %+v", body)
	}
}

func TestFacilitatedPaymentDelivers(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(VerifyResponse{IsValid: true, Payer: testPayer})
		case "/settle":
			json.NewEncoder(w).Encode(slo.SettlementResponse{Success: true, Transaction: "0xsettled", Network: "base"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer facilitator.Close()

	proxy, sgn := testProxy(t, facilitator.URL, nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
	req.Header.Set("X-PAYMENT", facilitatedHeader(t, testPayer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	settlement, err := encoding.DecodeSettlement(resp.Header.Get("X-PAYMENT-RESPONSE"))
	if err != nil {
		t.Fatalf("decode X-PAYMENT-RESPONSE: %v", err)
	}
	if !settlement.Success || settlement.Transaction != "0xsettled" {
		t.Errorf("settlement = %+v", settlement)
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SigningScheme != signer.SchemeEd25519 {
		t.Errorf("scheme = %q, want ed25519", body.SigningScheme)
	}
	if body.Pubkey != sgn.Ed25519Pubkey() {
		t.Error("attestation not re-signed with proxy key")
	}
	if !signer.VerifyEd25519(body.Canonical, body.Signature, body.Pubkey) {
		t.Error("ed25519 signature does not verify")
	}
	if body.Payment == nil || !body.Payment.Confirmed || body.Payment.TxHash != "0xsettled" {
		t.Errorf("payment info = %+v", body.Payment)
	}
}

func TestFacilitatorRejectionIs402(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"})
	}))
	defer facilitator.Close()

	proxy, _ := testProxy(t, facilitator.URL, nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
	req.Header.Set("X-PAYMENT", facilitatedHeader(t, testPayer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "PAYMENT_INVALID" {
		t.Errorf("error = %q", body["error"])
	}

	// The rejection counts against the payer.
	if status := proxy.enforcer.Check(testPayer); status.Allowed {
		t.Error("rejected payer not in cooldown")
	}
}

func TestLegacyPaymentConfirmed(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: true}}
	proxy, _ := testProxy(t, "", chain)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	payment, _ := json.Marshal(slo.LegacyPayment{
		TxHash: "0xabc", Nonce: proxy.nonces.Issue(), From: testPayer,
	})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
	req.Header.Set("X-PAYMENT", base64.StdEncoding.EncodeToString(payment))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Payment == nil || !body.Payment.Confirmed {
		t.Errorf("payment info = %+v", body.Payment)
	}
	if proxy.pending.Len() != 0 {
		t.Error("confirmed payment queued as pending")
	}
}

func TestLegacyPaymentOptimistic(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: false, Reason: "pending_valid"}}
	proxy, _ := testProxy(t, "", chain)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	payment, _ := json.Marshal(slo.LegacyPayment{
		TxHash: "0xabc", Nonce: proxy.nonces.Issue(), From: testPayer,
	})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
	req.Header.Set("X-PAYMENT", base64.StdEncoding.EncodeToString(payment))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Payment.Confirmed {
		t.Error("pending payment marked confirmed")
	}
	if proxy.pending.Len() != 1 {
		t.Errorf("pending queue len = %d, want 1", proxy.pending.Len())
	}
}

func TestLegacyPaymentNonceReuse(t *testing.T) {
	chain := &fakeChain{result: Verification{Valid: true, Confirmed: true}}
	proxy, _ := testProxy(t, "", chain)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	nonce := proxy.nonces.Issue()
	payment, _ := json.Marshal(slo.LegacyPayment{TxHash: "0xabc", Nonce: nonce, From: testPayer})
	header := base64.StdEncoding.EncodeToString(payment)

	for i, want := range []int{http.StatusOK, http.StatusBadRequest} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
		req.Header.Set("X-PAYMENT", header)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("attempt %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}

func TestMalformedPaymentHeader(t *testing.T) {
	proxy, _ := testProxy(t, "", nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	for _, header := range []string{"not json at all", base64.StdEncoding.EncodeToString([]byte(`{"x402Version":2}`))} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/oracle/btcusd", nil)
		req.Header.Set("X-PAYMENT", header)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("header %q status = %d, want 400", header, resp.StatusCode)
		}
	}
}

func TestUnknownRoute404(t *testing.T) {
	proxy, _ := testProxy(t, "", nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/oracle/dogeusd")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInfoEndpoint(t *testing.T) {
	proxy, sgn := testProxy(t, "", nil)
	ts := httptest.NewServer(proxy.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sho/info")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var info struct {
		Protocol      string                        `json:"protocol"`
		SigningScheme string                        `json:"signing_scheme"`
		Pubkey        string                        `json:"pubkey"`
		DepegActive   bool                          `json:"depeg_active"`
		Endpoints     map[string]map[string]float64 `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Protocol != "x402" || info.SigningScheme != signer.SchemeEd25519 {
		t.Errorf("info = %+v", info)
	}
	if info.Pubkey != sgn.Ed25519Pubkey() {
		t.Error("info pubkey mismatch")
	}
	if info.Endpoints["/oracle/btcusd/vwap"]["price_usd"] != 0.002 {
		t.Errorf("vwap price = %v", info.Endpoints["/oracle/btcusd/vwap"])
	}
}
