// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the slice of the identity data model needed for
// credential resolution, and the store adapters over the externally
// maintained key-value identity store.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Temporary access-key prefixes. The match is case-sensitive: lowercase
// variants are ordinary permanent keys.
const (
	PrefixSessionToken = "MSTS" // session-token-derived keys
	PrefixAssumedRole  = "MSAR" // assumed-role keys
)

// IsTemporaryKey reports whether the access key id carries one of the
// temporary-credential prefixes.
func IsTemporaryKey(accessKeyID string) bool {
	return strings.HasPrefix(accessKeyID, PrefixSessionToken) ||
		strings.HasPrefix(accessKeyID, PrefixAssumedRole)
}

// Principal is a user record as normalized into the identity store.
// The auth core only reads it.
type Principal struct {
	UUID       string            `json:"uuid"`
	Login      string            `json:"login"`
	Account    string            `json:"account"`
	AccessKeys map[string]string `json:"accesskeys"` // accessKeyId -> secret
}

// Caller is the already-authenticated identity attempting an action.
func (p *Principal) Caller() Caller {
	return Caller{UUID: p.UUID, Login: p.Login, Account: p.Account}
}

// Caller identifies an authenticated principal for authorization decisions.
type Caller struct {
	UUID    string `json:"uuid"`
	Login   string `json:"login"`
	Account string `json:"account"`
}

// AssumedRole describes the role behind an assumed-role credential.
type AssumedRole struct {
	RoleUUID string            `json:"roleUuid"`
	ARN      string            `json:"arn"`
	Policies []json.RawMessage `json:"policies,omitempty"`
}

// TemporaryCredential is the reverse-index record for MSTS/MSAR keys. The
// full record is stored at the access key id; permanent keys store only the
// owner UUID.
type TemporaryCredential struct {
	AccessKeyID   string       `json:"accessKeyId"`
	OwnerUUID     string       `json:"ownerUuid"`
	Secret        string       `json:"secret"`
	Expiration    time.Time    `json:"expiration"`
	SessionToken  string       `json:"sessionToken"`
	PrincipalUUID string       `json:"principalUuid"` // who assumed the role
	AssumedRole   *AssumedRole `json:"assumedRole,omitempty"`
}

// IsExpired reports whether the credential has passed its expiration.
func (t *TemporaryCredential) IsExpired(now time.Time) bool {
	return now.After(t.Expiration)
}

// KeyResolution is the tagged union stored in the access-key reverse index:
// a bare owner UUID for permanent keys, or the full temporary-credential
// record. Exactly one of the two fields is set. The shape is resolved once
// at the store boundary and never re-inspected as raw data downstream.
type KeyResolution struct {
	OwnerUUID string               `json:"owner,omitempty"`
	Temporary *TemporaryCredential `json:"temporary,omitempty"`
}

// IsTemporary reports whether the resolution carries a temporary record.
func (r *KeyResolution) IsTemporary() bool {
	return r.Temporary != nil
}

// Owner returns the owning principal UUID for either kind.
func (r *KeyResolution) Owner() string {
	if r.Temporary != nil {
		return r.Temporary.OwnerUUID
	}
	return r.OwnerUUID
}

// GenerateAccessKeyID generates a permanent access key id.
// Format: AKIA + 16 hex characters (20 chars total).
func GenerateAccessKeyID() string {
	b := make([]byte, 10)
	rand.Read(b)
	return "AKIA" + strings.ToUpper(hex.EncodeToString(b)[:16])
}

// GenerateTemporaryKeyID generates a temporary access key id with the given
// prefix (PrefixSessionToken or PrefixAssumedRole).
func GenerateTemporaryKeyID(prefix string) string {
	b := make([]byte, 10)
	rand.Read(b)
	return prefix + strings.ToUpper(hex.EncodeToString(b)[:16])
}

// GenerateSecret generates a 40-character secret access key.
func GenerateSecret() string {
	b := make([]byte, 30)
	rand.Read(b)
	return hex.EncodeToString(b)[:40]
}
