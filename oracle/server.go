// Package oracle serves signed price attestations over HTTP: one route per
// registered pair, composing the feed aggregator with the canonical signer.
package oracle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/myceliasignal/slo"
	"github.com/myceliasignal/slo/feeds"
	"github.com/myceliasignal/slo/signer"
)

// Version reported by /health and /oracle/status.
const Version = "1.2.0"

// Server holds the pair registry and the oracle signing identity. Both are
// read-only after construction, so handlers share them without locking.
type Server struct {
	signer *signer.Signer
	pairs  map[string]*feeds.Pair
}

// NewServer builds a server over the full pair registry.
func NewServer(s *signer.Signer) *Server {
	return &Server{
		signer: s,
		pairs: map[string]*feeds.Pair{
			"btcusd":      feeds.BTCUSD(),
			"btcusd/vwap": feeds.BTCUSDVWAP(),
			"ethusd":      feeds.ETHUSD(),
			"eurusd":      feeds.EURUSD(),
			"xauusd":      feeds.XAUUSD(),
			"solusd":      feeds.SOLUSD(),
			"btceur":      feeds.BTCEUR(),
		},
	}
}

// Handler returns the chi router for the attestation API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/oracle/status", s.handleStatus)
	r.Get("/oracle/{symbol}", s.handleAttestation)
	r.Get("/oracle/{symbol}/{variant}", s.handleAttestation)
	return r
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	key := strings.ToLower(chi.URLParam(r, "symbol"))
	if variant := chi.URLParam(r, "variant"); variant != "" {
		key += "/" + strings.ToLower(variant)
	}
	pair, ok := s.pairs[key]
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_PAIR", "no such pair: "+key)
		return
	}

	start := time.Now()
	res, err := feeds.Aggregate(r.Context(), pair)
	if err != nil {
		slog.Error("aggregation failed", "pair", pair.Symbol, "error", err)
		code := "AGGREGATION_FAILED"
		if errors.Is(err, slo.ErrInsufficientSources) {
			code = "INSUFFICIENT_SOURCES"
		}
		writeError(w, http.StatusInternalServerError, code, err.Error())
		return
	}

	canonical := signer.BuildCanonical(pair.Symbol, res.Price, pair.Quote,
		pair.Decimals, time.Now(), pair.Nonce, res.Sources, pair.Method)
	sig, pubkey := s.signer.SignSecp256k1(canonical)

	slog.Info("attestation served",
		"pair", pair.Symbol, "method", pair.Method,
		"price", res.Price, "sources", len(res.Sources),
		"stable_dropped", res.StableDropped,
		"elapsed", time.Since(start).Round(time.Millisecond))

	writeJSON(w, http.StatusOK, slo.Attestation{
		Domain:        pair.Symbol,
		Canonical:     canonical,
		Signature:     sig,
		SigningScheme: signer.SchemeSecp256k1,
		Pubkey:        pubkey,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": Version,
		"pairs":   len(s.pairs),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

type pairStatus struct {
	Symbol     string `json:"symbol"`
	Quote      string `json:"quote"`
	Decimals   int    `json:"decimals"`
	Method     string `json:"method"`
	Sources    int    `json:"sources"`
	MinSources int    `json:"min_sources"`
	CrossRate  bool   `json:"cross_rate,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]pairStatus, len(s.pairs))
	for route, p := range s.pairs {
		ps := pairStatus{
			Symbol:     p.Symbol,
			Quote:      p.Quote,
			Decimals:   p.Decimals,
			Method:     p.Method,
			Sources:    len(p.Sources),
			MinSources: p.MinSources,
			CrossRate:  p.Cross != nil,
		}
		if p.Cross != nil {
			ps.Sources = len(p.Cross.Base.Sources) + len(p.Cross.Quote.Sources)
		}
		status[route] = ps
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": Version,
		"pubkey":  s.signer.Secp256k1Pubkey(),
		"pairs":   status,
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
