package sho

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	testUSDC      = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testRecipient = "0x2222222222222222222222222222222222222222"
	testTxHash    = "0x59f1b15ba1b3a7c6f9a07b773ed6b9ebf92f1b15ba1b3a7c6f9a07b773ed6b9e"
)

// rpcFixture answers eth_getTransactionReceipt and eth_getTransactionByHash
// with canned results.
type rpcFixture struct {
	receipt interface{}
	tx      interface{}
}

func (f *rpcFixture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		var result interface{}
		switch req.Method {
		case "eth_getTransactionReceipt":
			result = f.receipt
		case "eth_getTransactionByHash":
			result = f.tx
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}
}

func testChainClient(t *testing.T, fixture *rpcFixture) *ChainClient {
	t.Helper()
	srv := httptest.NewServer(fixture.handler(t))
	t.Cleanup(srv.Close)
	client, err := NewChainClient(srv.URL, testUSDC, testRecipient)
	if err != nil {
		t.Fatalf("NewChainClient: %v", err)
	}
	return client
}

func transferLog(contract, to string, amount *big.Int) map[string]interface{} {
	return map[string]interface{}{
		"address": contract,
		"topics": []string{
			transferEventTopic.Hex(),
			common.HexToHash(testPayer).Hex(),
			common.HexToHash(to).Hex(),
		},
		"data": hexutil.Encode(common.LeftPadBytes(amount.Bytes(), 32)),
	}
}

func transferInput(to string, amount *big.Int) string {
	input := append([]byte{}, transferSelector...)
	input = append(input, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	input = append(input, common.LeftPadBytes(amount.Bytes(), 32)...)
	return hexutil.Encode(input)
}

func TestVerifyTransferMined(t *testing.T) {
	tests := []struct {
		name    string
		receipt map[string]interface{}
		want    Verification
	}{
		{
			name: "valid transfer",
			receipt: map[string]interface{}{
				"status": "0x1",
				"logs":   []interface{}{transferLog(testUSDC, testRecipient, big.NewInt(1000))},
			},
			want: Verification{Valid: true, Confirmed: true},
		},
		{
			name: "overpayment accepted",
			receipt: map[string]interface{}{
				"status": "0x1",
				"logs":   []interface{}{transferLog(testUSDC, testRecipient, big.NewInt(5000))},
			},
			want: Verification{Valid: true, Confirmed: true},
		},
		{
			name: "insufficient amount",
			receipt: map[string]interface{}{
				"status": "0x1",
				"logs":   []interface{}{transferLog(testUSDC, testRecipient, big.NewInt(999))},
			},
			want: Verification{Confirmed: true, Reason: "insufficient_amount"},
		},
		{
			name: "wrong recipient",
			receipt: map[string]interface{}{
				"status": "0x1",
				"logs":   []interface{}{transferLog(testUSDC, testPayer, big.NewInt(1000))},
			},
			want: Verification{Confirmed: true, Reason: "no_usdc_transfer_found"},
		},
		{
			name: "wrong token contract",
			receipt: map[string]interface{}{
				"status": "0x1",
				"logs":   []interface{}{transferLog(testPayer, testRecipient, big.NewInt(1000))},
			},
			want: Verification{Confirmed: true, Reason: "no_usdc_transfer_found"},
		},
		{
			name:    "reverted",
			receipt: map[string]interface{}{"status": "0x0", "logs": []interface{}{}},
			want:    Verification{Confirmed: true, Reason: "transaction_reverted"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testChainClient(t, &rpcFixture{receipt: tt.receipt})
			got, err := client.VerifyTransfer(context.Background(), testTxHash, big.NewInt(1000))
			if err != nil {
				t.Fatalf("VerifyTransfer: %v", err)
			}
			if got != tt.want {
				t.Errorf("verification = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVerifyTransferPending(t *testing.T) {
	tests := []struct {
		name string
		tx   map[string]interface{}
		want Verification
	}{
		{
			name: "valid pending transfer",
			tx: map[string]interface{}{
				"to":    testUSDC,
				"input": transferInput(testRecipient, big.NewInt(1000)),
			},
			want: Verification{Valid: true, Confirmed: false},
		},
		{
			name: "wrong recipient",
			tx: map[string]interface{}{
				"to":    testUSDC,
				"input": transferInput(testPayer, big.NewInt(1000)),
			},
			want: Verification{Reason: "wrong_recipient"},
		},
		{
			name: "insufficient amount",
			tx: map[string]interface{}{
				"to":    testUSDC,
				"input": transferInput(testRecipient, big.NewInt(1)),
			},
			want: Verification{Reason: "insufficient_amount"},
		},
		{
			name: "not the usdc contract",
			tx: map[string]interface{}{
				"to":    testPayer,
				"input": transferInput(testRecipient, big.NewInt(1000)),
			},
			want: Verification{Reason: "not_usdc_contract"},
		},
		{
			name: "not a transfer call",
			tx:   map[string]interface{}{"to": testUSDC, "input": "0xdeadbeef"},
			want: Verification{Reason: "not_transfer_call"},
		},
		{
			name: "unknown transaction",
			tx:   nil,
			want: Verification{Reason: "transaction_not_found"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testChainClient(t, &rpcFixture{receipt: nil, tx: tt.tx})
			got, err := client.VerifyTransfer(context.Background(), testTxHash, big.NewInt(1000))
			if err != nil {
				t.Fatalf("VerifyTransfer: %v", err)
			}
			if got != tt.want {
				t.Errorf("verification = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVerifyTransferMalformedHash(t *testing.T) {
	client := testChainClient(t, &rpcFixture{})
	got, err := client.VerifyTransfer(context.Background(), "0x1234", big.NewInt(1000))
	if err != nil {
		t.Fatalf("VerifyTransfer: %v", err)
	}
	if got.Valid || got.Reason != "malformed_tx_hash" {
		t.Errorf("verification = %+v", got)
	}
}

func TestNewChainClientRejectsBadAddresses(t *testing.T) {
	if _, err := NewChainClient("http://localhost:0", "nope", testRecipient); err == nil {
		t.Error("bad contract address accepted")
	}
	if _, err := NewChainClient("http://localhost:0", testUSDC, "nope"); err == nil {
		t.Error("bad payment address accepted")
	}
}
