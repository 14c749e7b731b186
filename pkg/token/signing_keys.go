// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package token issues and verifies the short-lived signed session tokens
// that back temporary credentials. Several signing keys may be valid at
// once: rotation introduces a new key as non-primary, promotes it, then
// retires the old one after a grace period.
package token

import (
	"time"
)

// KeyEntry is one signing key as supplied by the external key-management
// process.
type KeyEntry struct {
	KeyID    string
	Material []byte
	Primary  bool
	AddedAt  time.Time
}

// KeyStore is an immutable snapshot of the configured signing keys.
// Rotation swaps the snapshot; no mutation is ever visible mid-verification,
// so a KeyStore is safe to share across concurrent verifications.
type KeyStore struct {
	entries     map[string]KeyEntry
	order       []string // insertion order, for deterministic fallback
	primaryID   string
	gracePeriod time.Duration
	now         func() time.Time
}

// KeyStoreOption configures a KeyStore snapshot.
type KeyStoreOption func(*KeyStore)

// WithClock overrides the time source used for grace-period checks.
func WithClock(now func() time.Time) KeyStoreOption {
	return func(s *KeyStore) {
		s.now = now
	}
}

// NewKeyStore builds a snapshot from the configured entries. Entries keep
// their given order for fallback; the last entry flagged Primary wins the
// primary slot.
func NewKeyStore(gracePeriod time.Duration, entries []KeyEntry, opts ...KeyStoreOption) *KeyStore {
	s := &KeyStore{
		entries:     make(map[string]KeyEntry, len(entries)),
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
	for _, e := range entries {
		if _, dup := s.entries[e.KeyID]; !dup {
			s.order = append(s.order, e.KeyID)
		}
		s.entries[e.KeyID] = e
		if e.Primary {
			s.primaryID = e.KeyID
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Empty reports whether the snapshot holds no keys at all.
func (s *KeyStore) Empty() bool {
	return len(s.entries) == 0
}

// Lookup returns the entry for keyID. A hit here is always acceptable for
// verification, regardless of the entry's age or primary flag.
func (s *KeyStore) Lookup(keyID string) (KeyEntry, bool) {
	e, ok := s.entries[keyID]
	return e, ok
}

// Primary returns the current primary entry, if one is configured.
func (s *KeyStore) Primary() (KeyEntry, bool) {
	if s.primaryID == "" {
		return KeyEntry{}, false
	}
	e, ok := s.entries[s.primaryID]
	return e, ok
}

// FallbackCandidates returns the keys to try when a token carries no
// resolvable key id: the primary first (unconditionally valid), then the
// remaining entries still inside the grace window, in insertion order.
// A key removed from the snapshot is never a candidate, whatever its age.
func (s *KeyStore) FallbackCandidates() []KeyEntry {
	now := s.now()
	candidates := make([]KeyEntry, 0, len(s.order))

	if primary, ok := s.Primary(); ok {
		candidates = append(candidates, primary)
	}
	for _, id := range s.order {
		if id == s.primaryID {
			continue
		}
		e := s.entries[id]
		if now.Sub(e.AddedAt) <= s.gracePeriod {
			candidates = append(candidates, e)
		}
	}
	return candidates
}
