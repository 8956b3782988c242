package dlc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists announcements, attestations and nonce secrets as JSON files
// keyed by event id. Writes go through a temp file and an atomic rename, so
// concurrent readers see either the complete old file or the complete new
// one. Nonce files are owner-only and transient.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dlc data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) announcementPath(eventID string) string {
	return filepath.Join(s.dir, eventID+".announcement.json")
}

func (s *Store) attestationPath(eventID string) string {
	return filepath.Join(s.dir, eventID+".attestation.json")
}

func (s *Store) noncesPath(eventID string) string {
	return filepath.Join(s.dir, eventID+".nonces.json")
}

func (s *Store) writeJSON(path string, v interface{}, mode os.FileMode) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, mode); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *Store) SaveAnnouncement(a *Announcement) error {
	return s.writeJSON(s.announcementPath(a.EventID), a, 0o644)
}

func (s *Store) LoadAnnouncement(eventID string) (*Announcement, error) {
	var a Announcement
	if err := s.readJSON(s.announcementPath(eventID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) AnnouncementExists(eventID string) bool {
	_, err := os.Stat(s.announcementPath(eventID))
	return err == nil
}

// ListAnnouncements returns all announcements sorted by event id.
func (s *Store) ListAnnouncements() ([]*Announcement, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Announcement
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".announcement.json") {
			continue
		}
		var a Announcement
		if err := s.readJSON(filepath.Join(s.dir, name), &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *Store) SaveAttestation(a *Attestation) error {
	return s.writeJSON(s.attestationPath(a.EventID), a, 0o644)
}

func (s *Store) LoadAttestation(eventID string) (*Attestation, error) {
	var a Attestation
	if err := s.readJSON(s.attestationPath(eventID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) AttestationExists(eventID string) bool {
	_, err := os.Stat(s.attestationPath(eventID))
	return err == nil
}

// SaveNonces writes the nonce secrets owner-only.
func (s *Store) SaveNonces(n *NonceSecrets) error {
	return s.writeJSON(s.noncesPath(n.EventID), n, 0o600)
}

func (s *Store) LoadNonces(eventID string) (*NonceSecrets, error) {
	var n NonceSecrets
	if err := s.readJSON(s.noncesPath(eventID), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNonces unlinks the nonce-secrets file. Retaining nonces after
// attestation would let anyone recover the oracle private key from two
// published scalars.
func (s *Store) DeleteNonces(eventID string) error {
	return os.Remove(s.noncesPath(eventID))
}

func (s *Store) NoncesExist(eventID string) bool {
	_, err := os.Stat(s.noncesPath(eventID))
	return err == nil
}

// Counts reports announcement and attestation totals for the status endpoint.
func (s *Store) Counts() (announcements, attestations int) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".announcement.json"):
			announcements++
		case strings.HasSuffix(entry.Name(), ".attestation.json"):
			attestations++
		}
	}
	return announcements, attestations
}
