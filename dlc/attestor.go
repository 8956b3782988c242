// Package dlc implements the Discreet Log Contract sub-oracle: per-digit
// Schnorr nonce pre-commitment, hourly price attestation, verification, and
// the file-backed event store. Compressed 33-byte points are used
// throughout to avoid y-coordinate ambiguity.
package dlc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/myceliasignal/slo"
)

// NumDigits is the fixed digit width of attested prices.
const NumDigits = 5

// timeLayout is the maturity timestamp format inside event ids.
const timeLayout = "2006-01-02T15:04:05Z"

// Announcement pre-commits the nonce points for one future event.
type Announcement struct {
	EventID      string   `json:"event_id"`
	Pair         string   `json:"pair"`
	Maturity     string   `json:"maturity"`
	OraclePubkey string   `json:"oracle_pubkey"`
	NumDigits    int      `json:"num_digits"`
	RPoints      []string `json:"r_points"`
	CreatedAt    string   `json:"created_at"`
}

// NonceSecrets holds the scalar nonces matching an announcement's points.
// Single-use: read once at attestation, then deleted.
type NonceSecrets struct {
	EventID      string   `json:"event_id"`
	NonceSecrets []string `json:"nonce_secrets"`
}

// Attestation publishes the per-digit scalar responses for one event.
type Attestation struct {
	EventID      string   `json:"event_id"`
	Pair         string   `json:"pair"`
	Maturity     string   `json:"maturity"`
	OraclePubkey string   `json:"oracle_pubkey"`
	Price        int64    `json:"price"`
	PriceDigits  []int    `json:"price_digits"`
	SValues      []string `json:"s_values"`
	AttestedAt   string   `json:"attested_at"`
}

// EventID derives the canonical event identifier.
func EventID(pair string, maturity time.Time) string {
	return pair + "-" + maturity.UTC().Format(timeLayout)
}

// Attestor creates announcements and attestations with the oracle's
// secp256k1 key.
type Attestor struct {
	key   *secp256k1.PrivateKey
	store *Store
}

func NewAttestor(key *secp256k1.PrivateKey, store *Store) *Attestor {
	return &Attestor{key: key, store: store}
}

// Pubkey returns the oracle public key, compressed hex.
func (a *Attestor) Pubkey() string {
	return hex.EncodeToString(a.key.PubKey().SerializeCompressed())
}

// Store exposes the underlying event store for the HTTP server.
func (a *Attestor) Store() *Store { return a.store }

// CreateAnnouncement generates fresh nonces and publishes their points for
// the event. Idempotent by event id: an existing announcement is returned
// unchanged, and its nonces are left alone.
func (a *Attestor) CreateAnnouncement(pair string, maturity time.Time) (*Announcement, error) {
	eventID := EventID(pair, maturity)
	if a.store.AnnouncementExists(eventID) {
		return a.store.LoadAnnouncement(eventID)
	}

	secrets := make([]string, NumDigits)
	points := make([]string, NumDigits)
	for i := 0; i < NumDigits; i++ {
		nonce, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		secrets[i] = hex.EncodeToString(nonce.Serialize())
		points[i] = hex.EncodeToString(nonce.PubKey().SerializeCompressed())
	}

	// Secrets go to disk before the announcement: an announcement without
	// nonces can never be attested.
	if err := a.store.SaveNonces(&NonceSecrets{EventID: eventID, NonceSecrets: secrets}); err != nil {
		return nil, err
	}

	ann := &Announcement{
		EventID:      eventID,
		Pair:         pair,
		Maturity:     maturity.UTC().Format(timeLayout),
		OraclePubkey: a.Pubkey(),
		NumDigits:    NumDigits,
		RPoints:      points,
		CreatedAt:    time.Now().UTC().Format(timeLayout),
	}
	if err := a.store.SaveAnnouncement(ann); err != nil {
		return nil, err
	}
	slog.Info("dlc event announced", "event_id", eventID)
	return ann, nil
}

// CreateAttestation digit-decomposes the price and publishes the Schnorr
// responses s_i = k_i + e_i*x over the pre-committed nonces. The nonce file
// is deleted only after the attestation is durably written; after a crash
// in between, the attestation is authoritative.
func (a *Attestor) CreateAttestation(pair string, maturity time.Time, price float64) (*Attestation, error) {
	eventID := EventID(pair, maturity)
	nonces, err := a.store.LoadNonces(eventID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", slo.ErrMissingNonces, eventID)
		}
		return nil, err
	}

	digits, priceInt, err := priceDigits(price)
	if err != nil {
		return nil, err
	}

	sValues := make([]string, NumDigits)
	for i, digit := range digits {
		kBytes, err := hex.DecodeString(nonces.NonceSecrets[i])
		if err != nil || len(kBytes) != 32 {
			return nil, fmt.Errorf("corrupt nonce %d for %s", i, eventID)
		}
		var k secp256k1.ModNScalar
		if overflow := k.SetByteSlice(kBytes); overflow {
			return nil, fmt.Errorf("nonce %d out of range for %s", i, eventID)
		}

		e := challenge(eventID, i, digit)
		var s secp256k1.ModNScalar
		s.Mul2(&e, &a.key.Key).Add(&k) // s = e*x + k mod n
		sBytes := s.Bytes()
		sValues[i] = hex.EncodeToString(sBytes[:])
	}

	att := &Attestation{
		EventID:      eventID,
		Pair:         pair,
		Maturity:     maturity.UTC().Format(timeLayout),
		OraclePubkey: a.Pubkey(),
		Price:        priceInt,
		PriceDigits:  digits,
		SValues:      sValues,
		AttestedAt:   time.Now().UTC().Format(timeLayout),
	}
	if err := a.store.SaveAttestation(att); err != nil {
		return nil, err
	}
	if err := a.store.DeleteNonces(eventID); err != nil {
		slog.Error("failed to delete dlc nonces", "event_id", eventID, "error", err)
	}
	slog.Info("dlc event attested", "event_id", eventID, "price", priceInt, "digits", digits)
	return att, nil
}

// priceDigits rounds a price to an integer and splits it into exactly
// NumDigits decimal digits.
func priceDigits(price float64) ([]int, int64, error) {
	priceInt := int64(math.Round(price))
	formatted := fmt.Sprintf("%0*d", NumDigits, priceInt)
	if priceInt < 0 || len(formatted) != NumDigits {
		return nil, 0, fmt.Errorf("%w: %d does not fit %d digits", slo.ErrPriceOutOfRange, priceInt, NumDigits)
	}
	digits := make([]int, NumDigits)
	for i, c := range formatted {
		digits[i] = int(c - '0')
	}
	return digits, priceInt, nil
}

// challenge derives the per-digit challenge scalar
// e = SHA256("<event-id>/<i>/<digit>") mod n.
func challenge(eventID string, index, digit int) secp256k1.ModNScalar {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%d", eventID, index, digit)))
	var e secp256k1.ModNScalar
	e.SetByteSlice(digest[:])
	return e
}

// Verify checks every digit's response: s_i*G must equal R_i + e_i*P as
// compressed points, with P the oracle key from the announcement.
func Verify(ann *Announcement, att *Attestation) bool {
	pubBytes, err := hex.DecodeString(ann.OraclePubkey)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	if len(att.PriceDigits) != ann.NumDigits || len(att.SValues) != ann.NumDigits ||
		len(ann.RPoints) != ann.NumDigits {
		return false
	}

	for i, digit := range att.PriceDigits {
		sBytes, err := hex.DecodeString(att.SValues[i])
		if err != nil || len(sBytes) != 32 {
			return false
		}
		var s secp256k1.ModNScalar
		if overflow := s.SetByteSlice(sBytes); overflow {
			return false
		}

		rBytes, err := hex.DecodeString(ann.RPoints[i])
		if err != nil {
			return false
		}
		rPoint, err := secp256k1.ParsePubKey(rBytes)
		if err != nil {
			return false
		}

		e := challenge(att.EventID, i, digit)

		var sG, pJ, eP, rJ, sum secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(&s, &sG)
		pub.AsJacobian(&pJ)
		secp256k1.ScalarMultNonConst(&e, &pJ, &eP)
		rPoint.AsJacobian(&rJ)
		secp256k1.AddNonConst(&rJ, &eP, &sum)

		sG.ToAffine()
		sum.ToAffine()
		left := secp256k1.NewPublicKey(&sG.X, &sG.Y).SerializeCompressed()
		right := secp256k1.NewPublicKey(&sum.X, &sum.Y).SerializeCompressed()
		if !bytes.Equal(left, right) {
			return false
		}
	}
	return true
}
