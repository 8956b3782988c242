// Package signer owns the oracle identity: the persistent secp256k1 and
// Ed25519 key pair, the canonical observation string, signing over its
// SHA-256 digest, and the cross-certification artifact binding both keys.
package signer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CanonicalVersion is the canonical string format version.
const CanonicalVersion = "v1"

// Canonical holds the parsed fields of a canonical observation string:
// v1|SYMBOL|price|QUOTE|decimals|timestamp|nonce|sources-csv|method.
// Fields never contain the pipe character.
type Canonical struct {
	Version   string
	Symbol    string
	Price     string // formatted to exactly Decimals fractional digits
	Quote     string
	Decimals  int
	Timestamp string // RFC 3339 UTC, second precision, trailing Z
	Nonce     string
	Sources   []string // lexicographic, deduplicated
	Method    string
}

// BuildCanonical formats a canonical string from raw observation fields.
// Sources are deduplicated and sorted so the string is byte-stable
// regardless of fetcher completion order.
func BuildCanonical(symbol string, price float64, quote string, decimals int,
	at time.Time, nonce string, sources []string, method string) string {

	unique := make([]string, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	sort.Strings(unique)

	return strings.Join([]string{
		CanonicalVersion,
		symbol,
		strconv.FormatFloat(price, 'f', decimals, 64),
		quote,
		strconv.Itoa(decimals),
		at.UTC().Format("2006-01-02T15:04:05Z"),
		nonce,
		strings.Join(unique, ","),
		method,
	}, "|")
}

// ParseCanonical splits a canonical string back into its fields. The
// round-trip invariant holds: parsed.String() == input for any string
// produced by BuildCanonical.
func ParseCanonical(s string) (*Canonical, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 9 {
		return nil, fmt.Errorf("canonical: want 9 fields, got %d", len(parts))
	}
	if parts[0] != CanonicalVersion {
		return nil, fmt.Errorf("canonical: unsupported version %q", parts[0])
	}
	decimals, err := strconv.Atoi(parts[4])
	if err != nil {
		return nil, fmt.Errorf("canonical: bad decimals %q: %w", parts[4], err)
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return nil, fmt.Errorf("canonical: bad price %q: %w", parts[2], err)
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", parts[5]); err != nil {
		return nil, fmt.Errorf("canonical: bad timestamp %q: %w", parts[5], err)
	}
	var sources []string
	if parts[7] != "" {
		sources = strings.Split(parts[7], ",")
	}
	return &Canonical{
		Version:   parts[0],
		Symbol:    parts[1],
		Price:     parts[2],
		Quote:     parts[3],
		Decimals:  decimals,
		Timestamp: parts[5],
		Nonce:     parts[6],
		Sources:   sources,
		Method:    parts[8],
	}, nil
}

// String rebuilds the canonical string from parsed fields, byte-for-byte.
func (c *Canonical) String() string {
	return strings.Join([]string{
		c.Version,
		c.Symbol,
		c.Price,
		c.Quote,
		strconv.Itoa(c.Decimals),
		c.Timestamp,
		c.Nonce,
		strings.Join(c.Sources, ","),
		c.Method,
	}, "|")
}
