// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSessionToken is returned for any token that cannot be verified:
// bad signature, unknown or removed signing key, expired claims, or
// malformed input. The distinction is deliberately not surfaced.
var ErrInvalidSessionToken = errors.New("invalid session token")

// errUnknownKeyID signals that the token's kid did not resolve in the
// snapshot, which is the only condition that opens the fallback path.
var errUnknownKeyID = errors.New("unknown signing key id")

// Claims is the payload of a session token. Created at role-assumption
// time and never mutated after issuance.
type Claims struct {
	PrincipalUUID string
	RoleARN       string
	SessionName   string
	ExpiresAt     time.Time
	Policies      []json.RawMessage
}

// jwtClaims is the wire shape of Claims inside the JWT.
type jwtClaims struct {
	jwt.RegisteredClaims
	RoleARN     string            `json:"roleArn,omitempty"`
	SessionName string            `json:"sessionName,omitempty"`
	Policies    []json.RawMessage `json:"policies,omitempty"`
}

var signingMethod = jwt.SigningMethodHS256

// Issue serializes and signs claims under key, embedding the key id in the
// token header so a verifier can select the right key without
// trial-and-error.
func Issue(claims Claims, key KeyEntry) (string, error) {
	tok := jwt.NewWithClaims(signingMethod, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.PrincipalUUID,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		RoleARN:     claims.RoleARN,
		SessionName: claims.SessionName,
		Policies:    claims.Policies,
	})
	tok.Header["kid"] = key.KeyID

	return tok.SignedString(key.Material)
}

// Verify checks tokenString against the key snapshot and returns its
// claims.
//
// An exact key-id match always wins: if the embedded kid resolves in the
// snapshot, the token is verified strictly against that entry and the
// grace period is irrelevant. Only when the kid is absent or unknown does
// verification fall back to the primary key and then to the entries still
// inside the grace window.
func Verify(tokenString string, store *KeyStore) (*Claims, error) {
	if store == nil || store.Empty() {
		return nil, ErrInvalidSessionToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	)

	claims, err := parseWith(parser, tokenString, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errUnknownKeyID
		}
		entry, ok := store.Lookup(kid)
		if !ok {
			return nil, errUnknownKeyID
		}
		return entry.Material, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case !errors.Is(err, errUnknownKeyID):
		// The kid resolved but the token failed against its own key;
		// nothing else may vouch for it.
		return nil, ErrInvalidSessionToken
	}

	for _, candidate := range store.FallbackCandidates() {
		material := candidate.Material
		claims, err := parseWith(parser, tokenString, func(*jwt.Token) (any, error) {
			return material, nil
		})
		if err == nil {
			return claims, nil
		}
	}
	return nil, ErrInvalidSessionToken
}

func parseWith(parser *jwt.Parser, tokenString string, keyfunc jwt.Keyfunc) (*Claims, error) {
	var wire jwtClaims
	tok, err := parser.ParseWithClaims(tokenString, &wire, keyfunc)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, ErrInvalidSessionToken
	}

	claims := &Claims{
		PrincipalUUID: wire.Subject,
		RoleARN:       wire.RoleARN,
		SessionName:   wire.SessionName,
		Policies:      wire.Policies,
	}
	if wire.ExpiresAt != nil {
		claims.ExpiresAt = wire.ExpiresAt.Time
	}
	return claims, nil
}
