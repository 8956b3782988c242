package dlc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// serverVersion reported by the status and health endpoints.
const serverVersion = "v1"

// Server exposes the DLC oracle's announcements and attestations over HTTP.
// It only reads the store; the scheduler is the single writer.
type Server struct {
	attestor *Attestor
	pairs    []string
}

func NewServer(attestor *Attestor) *Server {
	return &Server{attestor: attestor, pairs: []string{"BTCUSD"}}
}

// Handler returns the chi router for the DLC API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/dlc/oracle/pubkey", s.handlePubkey)
	r.Get("/dlc/oracle/announcements", s.handleAnnouncements)
	r.Get("/dlc/oracle/announcements/{eventID}", s.handleAnnouncement)
	r.Get("/dlc/oracle/attestations/{eventID}", s.handleAttestation)
	r.Get("/dlc/oracle/status", s.handleStatus)
	return r
}

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"oracle_pubkey": s.attestor.Pubkey(),
		"key_format":    "compressed",
		"key_bytes":     33,
		"curve":         "secp256k1",
	})
}

// announcementSummary is the list form: full announcements (with all five
// nonce points) come from the per-event route.
type announcementSummary struct {
	EventID   string `json:"event_id"`
	Pair      string `json:"pair"`
	Maturity  string `json:"maturity"`
	NumDigits int    `json:"num_digits"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	announcements, err := s.attestor.Store().ListAnnouncements()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	summaries := make([]announcementSummary, 0, len(announcements))
	for _, a := range announcements {
		summaries = append(summaries, announcementSummary{
			EventID:   a.EventID,
			Pair:      a.Pair,
			Maturity:  a.Maturity,
			NumDigits: a.NumDigits,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(summaries),
		"announcements": summaries,
	})
}

func (s *Server) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	ann, err := s.attestor.Store().LoadAnnouncement(eventID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "announcement not found: "+eventID)
		return
	}
	writeJSON(w, http.StatusOK, ann)
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	att, err := s.attestor.Store().LoadAttestation(eventID)
	if err != nil {
		// 425 when the event is announced but its maturity has not been
		// attested yet; 404 when we have never heard of it.
		if ann, annErr := s.attestor.Store().LoadAnnouncement(eventID); annErr == nil {
			writeError(w, http.StatusTooEarly, "NOT_YET_ATTESTED",
				"event announced but not yet attested, maturity "+ann.Maturity)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "event not found: "+eventID)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	announcements, attestations := s.attestor.Store().Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"oracle_pubkey": s.attestor.Pubkey(),
		"announcements": announcements,
		"attestations":  attestations,
		"pending":       announcements - attestations,
		"num_digits":    NumDigits,
		"pairs":         s.pairs,
		"version":       serverVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "slo-dlc",
		"version": serverVersion,
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
