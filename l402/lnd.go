package l402

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/myceliasignal/slo"
)

// InvoiceClient talks to a Lightning node's REST API to create invoices.
type InvoiceClient struct {
	host        string // e.g. https://node.example.com:8080
	macaroonHex string // hex of the node's invoice macaroon
	client      *http.Client
}

// NewInvoiceClient reads the node macaroon and optional TLS certificate from
// disk. An empty tlsCertPath uses the system trust store.
func NewInvoiceClient(host, macaroonPath, tlsCertPath string) (*InvoiceClient, error) {
	macBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read node macaroon: %w", err)
	}

	transport := &http.Transport{}
	if tlsCertPath != "" {
		pem, err := os.ReadFile(tlsCertPath)
		if err != nil {
			return nil, fmt.Errorf("read node tls cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse node tls cert %s", tlsCertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &InvoiceClient{
		host:        host,
		macaroonHex: hex.EncodeToString(macBytes),
		client:      &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}, nil
}

type invoiceRequest struct {
	Value string `json:"value"`
	Memo  string `json:"memo"`
}

type invoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
}

// CreateInvoice mints a bolt11 invoice for the given amount and returns the
// payment request string and the 32-byte payment hash.
func (c *InvoiceClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, []byte, error) {
	body, err := json.Marshal(invoiceRequest{Value: fmt.Sprintf("%d", amountSats), Memo: memo})
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/invoices", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", slo.ErrInvoiceCreationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: node returned %d", slo.ErrInvoiceCreationFailed, resp.StatusCode)
	}

	var inv invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return "", nil, fmt.Errorf("%w: %v", slo.ErrInvoiceCreationFailed, err)
	}
	rHash, err := base64.StdEncoding.DecodeString(inv.RHash)
	if err != nil || len(rHash) != 32 {
		return "", nil, fmt.Errorf("%w: bad payment hash in node response", slo.ErrInvoiceCreationFailed)
	}
	return inv.PaymentRequest, rHash, nil
}
