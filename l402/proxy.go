package l402

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Route maps a paid path to its backend and sats price.
type Route struct {
	Backend string
	Sats    int64
}

// PrefixRoute is a paid route matched by path prefix, for path-parameterized
// endpoints like DLC attestation fetches.
type PrefixRoute struct {
	Prefix  string
	Backend string
	Sats    int64
}

// Invoicer creates Lightning invoices. Satisfied by InvoiceClient.
type Invoicer interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, []byte, error)
}

// Proxy fronts the attestation and DLC endpoints with the L402 handshake.
// No retries, no token caching: a request either carries a valid macaroon
// and preimage or gets a fresh 402 challenge.
type Proxy struct {
	invoices     Invoicer
	minter       *Minter
	routes       map[string]Route
	prefixRoutes []PrefixRoute
	freeRoutes   map[string]string
	freePrefixes map[string]string
}

// NewProxy builds the proxy over the standard route table, with every route
// pointed at a single unified backend.
func NewProxy(invoices Invoicer, minter *Minter, backend string) *Proxy {
	return &Proxy{
		invoices: invoices,
		minter:   minter,
		routes: map[string]Route{
			"/oracle/btcusd":      {Backend: backend, Sats: 10},
			"/oracle/btcusd/vwap": {Backend: backend, Sats: 20},
			"/oracle/ethusd":      {Backend: backend, Sats: 10},
			"/oracle/eurusd":      {Backend: backend, Sats: 10},
			"/oracle/xauusd":      {Backend: backend, Sats: 10},
			"/oracle/solusd":      {Backend: backend, Sats: 10},
			"/oracle/btceur":      {Backend: backend, Sats: 10},
		},
		prefixRoutes: []PrefixRoute{
			{Prefix: "/dlc/oracle/attestations/", Backend: backend, Sats: 1000},
		},
		freeRoutes: map[string]string{
			"/health":                   backend,
			"/oracle/status":            backend,
			"/dlc/oracle/pubkey":        backend,
			"/dlc/oracle/announcements": backend,
			"/dlc/oracle/status":        backend,
		},
		freePrefixes: map[string]string{
			"/dlc/oracle/announcements/": backend,
		},
	}
}

// Handler returns the chi router for the proxy.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/*", p.handle)
	return r
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if backend, ok := p.freeRoutes[path]; ok {
		p.forward(backend, w, r)
		return
	}
	for prefix, backend := range p.freePrefixes {
		if strings.HasPrefix(path, prefix) {
			p.forward(backend, w, r)
			return
		}
	}

	route, ok := p.routes[path]
	if !ok {
		for _, pr := range p.prefixRoutes {
			if strings.HasPrefix(path, pr.Prefix) {
				route, ok = Route{Backend: pr.Backend, Sats: pr.Sats}, true
				break
			}
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route: "+path)
		return
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		p.authenticate(auth, route, w, r)
		return
	}
	p.challenge(route, w, r)
}

// challenge mints an invoice and macaroon and returns the 402 header.
func (p *Proxy) challenge(route Route, w http.ResponseWriter, r *http.Request) {
	payReq, paymentHash, err := p.invoices.CreateInvoice(r.Context(), route.Sats, "SLO "+r.URL.Path)
	if err != nil {
		slog.Error("invoice creation failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INVOICE_CREATION_FAILED", err.Error())
		return
	}
	macHex, err := p.minter.Mint(paymentHash)
	if err != nil {
		slog.Error("macaroon mint failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INVOICE_CREATION_FAILED", err.Error())
		return
	}

	slog.Info("payment challenge issued", "path", r.URL.Path, "sats", route.Sats)
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`L402 macaroon="%s", invoice="%s"`, macHex, payReq))
	writeError(w, http.StatusPaymentRequired, "PAYMENT_REQUIRED",
		fmt.Sprintf("pay %d sats to access %s", route.Sats, r.URL.Path))
}

// authenticate verifies an L402 token and forwards on success.
func (p *Proxy) authenticate(auth string, route Route, w http.ResponseWriter, r *http.Request) {
	scheme, token, found := strings.Cut(auth, " ")
	if !found || (scheme != "L402" && scheme != "LSAT") {
		writeError(w, http.StatusUnauthorized, "PAYMENT_INVALID", "unsupported authorization scheme")
		return
	}
	macToken, preimage, found := strings.Cut(token, ":")
	if !found {
		writeError(w, http.StatusUnauthorized, "PAYMENT_INVALID", "token must be <macaroon>:<preimage>")
		return
	}
	if err := p.minter.Verify(macToken, preimage); err != nil {
		slog.Warn("payment rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnauthorized, "PAYMENT_INVALID", err.Error())
		return
	}
	p.forward(route.Backend, w, r)
}

func (p *Proxy) forward(backend string, w http.ResponseWriter, r *http.Request) {
	target, err := url.Parse(backend)
	if err != nil {
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "bad backend URL")
		return
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("backend unreachable", "backend", backend, "error", err)
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
	}
	proxy.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "detail": detail})
}
