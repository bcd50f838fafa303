// Package store persists the license document: every known license
// record plus the revocation set of token identifiers. The whole
// document is one JSON file rewritten on each mutation; a mutex
// serializes the load-mutate-save sequence so concurrent activation and
// admin calls cannot lose updates.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// License status values. Transitions are one-way: active -> revoked.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// IssuedToken is one entry of a license's append-only issuance log.
type IssuedToken struct {
	JTI      string `json:"jti"`
	Exp      int64  `json:"exp"`
	IssuedAt int64  `json:"at"`
}

// LicenseRecord is the persisted state of a single license key.
type LicenseRecord struct {
	Features string        `json:"features"`
	Product  string        `json:"product"`
	Status   string        `json:"status"`
	// MachineID is bound on first activation and immutable afterwards.
	MachineID string        `json:"machineId,omitempty"`
	Issued    []IssuedToken `json:"issued,omitempty"`
}

// Document is the whole persisted state.
type Document struct {
	Licenses   map[string]*LicenseRecord `json:"licenses"`
	RevokedJTI []string                  `json:"revokedJti"`
}

// NewDocument returns an empty default document.
func NewDocument() *Document {
	return &Document{
		Licenses:   make(map[string]*LicenseRecord),
		RevokedJTI: []string{},
	}
}

// IsRevoked reports whether the given token identifier is denylisted.
func (d *Document) IsRevoked(jti string) bool {
	return slices.Contains(d.RevokedJTI, jti)
}

// RevokeJTI adds a token identifier to the revocation set. Idempotent.
func (d *Document) RevokeJTI(jti string) {
	if !d.IsRevoked(jti) {
		d.RevokedJTI = append(d.RevokedJTI, jti)
	}
}

// Store provides serialized access to the persisted document.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a store backed by the given file path.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "store")),
	}
}

// load reads the document from disk. A missing or corrupt file yields
// an empty default document: the lenient policy the desktop clients
// depend on. Corruption is logged so it does not pass silently.
func (s *Store) load() *Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("license document unreadable, starting empty",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		}
		return NewDocument()
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("license document corrupt, starting empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return NewDocument()
	}

	if doc.Licenses == nil {
		doc.Licenses = make(map[string]*LicenseRecord)
	}
	if doc.RevokedJTI == nil {
		doc.RevokedJTI = []string{}
	}
	return &doc
}

// save writes the document atomically: temp file then rename.
func (s *Store) save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".db-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write license document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace license document: %w", err)
	}
	return nil
}

// Update runs fn against the current document under the store lock and
// persists the result if fn succeeds. fn returning an error aborts the
// save and the error is returned unchanged.
func (s *Store) Update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

// View runs fn against a snapshot of the document under the store lock
// without persisting. Mutations fn makes are discarded.
func (s *Store) View(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.load())
}

// Snapshot returns the current document. The caller owns the copy.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}
